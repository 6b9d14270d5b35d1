package models

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Submission is an accepted solution that has already been relayed.
// A stored (AccountID, ProblemID) pair is terminal.
type Submission struct {
	ID           uint   `gorm:"primaryKey"`
	AccountID    string `gorm:"size:191;uniqueIndex:idx_submission_account_problem"`
	ProblemID    string `gorm:"size:191;uniqueIndex:idx_submission_account_problem"`
	SubmissionID string `gorm:"index"`

	SubmissionTime time.Time
	CreatedAt      time.Time `gorm:"autoCreateTime"`
}

func (s *Submission) BeforeSave(*gorm.DB) error {
	s.AccountID = CanonicalAccount(s.AccountID)
	return nil
}

func (s *Submission) String() string {
	return fmt.Sprintf(
		"Submission(%s, %s, %s, %s)",
		s.AccountID,
		s.ProblemID,
		s.SubmissionID,
		s.SubmissionTime.Format(time.RFC3339),
	)
}

// ProblemID joins a contest identifier and a problem index, e.g. 1234 and "A" give "1234A".
func ProblemID(contestID int, index string) string {
	return fmt.Sprintf("%d%s", contestID, index)
}
