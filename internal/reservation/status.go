package reservation

import "fmt"

// Status is the externally visible outcome recorded in the catalog.
type Status string

const (
	StatusPending Status = "pending"
	StatusDone    Status = "done"
	StatusFail    Status = "fail"
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusDone, StatusFail:
		return st, nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}
