package repository

// RowLock selects the row-level lock clause appended to a SELECT.
type RowLock string

const (
	LockNone   RowLock = ""
	LockShare  RowLock = " FOR SHARE"
	LockUpdate RowLock = " FOR UPDATE"
)

func normalizePage(page, size int) (int, int, int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > 100 {
		size = 20
	}
	return page, size, (page - 1) * size
}
