package codeforces

import (
	"strconv"
	"time"
)

const VerdictOK = "OK"

type envelope struct {
	Status  string        `json:"status"`
	Comment string        `json:"comment"`
	Result  []*Submission `json:"result"`
}

type Submission struct {
	ID                  int64    `json:"id"`
	ContestID           int      `json:"contestId"`
	CreationTimeSeconds int64    `json:"creationTimeSeconds"`
	Problem             *Problem `json:"problem"`
	Author              *Party   `json:"author"`
	ProgrammingLanguage string   `json:"programmingLanguage"`
	Verdict             string   `json:"verdict"`
}

func (s *Submission) CreationTime() time.Time {
	return time.Unix(s.CreationTimeSeconds, 0).UTC()
}

func (s *Submission) IDString() string {
	return strconv.FormatInt(s.ID, 10)
}

type Problem struct {
	ContestID int      `json:"contestId"`
	Index     string   `json:"index"`
	Name      string   `json:"name"`
	Rating    *int     `json:"rating"`
	Tags      []string `json:"tags"`
}

// Valid reports whether the problem carries enough to build an identifier.
func (p *Problem) Valid() bool {
	return p != nil && p.ContestID > 0 && p.Index != ""
}

type Party struct {
	Members         []Member `json:"members"`
	ParticipantType string   `json:"participantType"`
}

type Member struct {
	Handle string `json:"handle"`
}
