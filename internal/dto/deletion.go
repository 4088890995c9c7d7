package dto

// Deletion saga step names.
const (
	StepLoadStudent     = "load_student"
	StepDeleteDependent = "delete_dependents"
	StepDeleteIdentity  = "delete_identity"
	StepDeleteStudent   = "delete_student"
	StepNotify          = "notify"
)

// DeletionStep is the outcome of one saga step.
type DeletionStep struct {
	Name      string `json:"name"`
	Succeeded bool   `json:"succeeded"`
	Affected  int64  `json:"affected"`
	Error     string `json:"error,omitempty"`
}

// DeletionReport describes a single-student cascade deletion.
type DeletionReport struct {
	StudentID        string         `json:"student_id"`
	Steps            []DeletionStep `json:"steps"`
	IdentityOrphaned bool           `json:"identity_orphaned"`
}

// Clean reports whether every step succeeded.
func (r *DeletionReport) Clean() bool {
	if r == nil {
		return false
	}
	for _, step := range r.Steps {
		if !step.Succeeded {
			return false
		}
	}
	return !r.IdentityOrphaned
}

// OrphanedIdentity is an identity that could not be removed and needs manual cleanup.
type OrphanedIdentity struct {
	StudentID   string `json:"student_id"`
	IdentityRef string `json:"identity_ref"`
	Error       string `json:"error"`
}

// BulkDeleteRequest lists the students to delete.
type BulkDeleteRequest struct {
	StudentIDs []string `json:"student_ids" validate:"required,min=1,max=500,dive,required"`
}

// BulkDeletionReport describes a batched cascade deletion.
type BulkDeletionReport struct {
	Requested          int                `json:"requested"`
	Deleted            []string           `json:"deleted"`
	NotFound           []string           `json:"not_found"`
	Steps              []DeletionStep     `json:"steps"`
	OrphanedIdentities []OrphanedIdentity `json:"orphaned_identities"`
}

// Clean reports whether every requested student was removed with its identity.
func (r *BulkDeletionReport) Clean() bool {
	if r == nil {
		return false
	}
	for _, step := range r.Steps {
		if !step.Succeeded {
			return false
		}
	}
	return len(r.NotFound) == 0 && len(r.OrphanedIdentities) == 0
}
