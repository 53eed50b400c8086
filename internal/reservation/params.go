package reservation

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04"
)

// Params is the decoded job payload. The payload is stored verbatim and only
// decoded when the actor wakes.
type Params struct {
	FacilityID int    `json:"facilityId"`
	CourtNo    int    `json:"courtNo"`
	Date       string `json:"date"`
	StartTime  string `json:"startTime"`
	EndTime    string `json:"endTime"`
}

func DecodeParams(raw json.RawMessage) (Params, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return Params{}, errors.New("params missing")
	}
	var p Params
	if err := json.Unmarshal(raw, &p); err != nil {
		return Params{}, fmt.Errorf("decode params: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Params{}, err
	}
	return p, nil
}

func (p Params) Validate() error {
	if p.FacilityID < 1 {
		return fmt.Errorf("facilityId must be >= 1")
	}
	if p.CourtNo < 1 {
		return fmt.Errorf("courtNo must be >= 1")
	}
	if _, err := time.Parse(dateLayout, p.Date); err != nil {
		return fmt.Errorf("invalid date %q (want YYYY-MM-DD)", p.Date)
	}
	start, err := time.Parse(timeLayout, p.StartTime)
	if err != nil {
		return fmt.Errorf("invalid startTime %q (want HH:MM)", p.StartTime)
	}
	end, err := time.Parse(timeLayout, p.EndTime)
	if err != nil {
		return fmt.Errorf("invalid endTime %q (want HH:MM)", p.EndTime)
	}
	if !end.After(start) {
		return fmt.Errorf("endTime must be after startTime")
	}
	return nil
}

// CompactDate returns Date as YYYYMMDD.
func (p Params) CompactDate() string {
	d, err := time.Parse(dateLayout, p.Date)
	if err != nil {
		return ""
	}
	return d.Format("20060102")
}

func (p Params) StartHHMM() string { return compactTime(p.StartTime) }
func (p Params) EndHHMM() string   { return compactTime(p.EndTime) }

func compactTime(s string) string {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return ""
	}
	return t.Format("1504")
}
