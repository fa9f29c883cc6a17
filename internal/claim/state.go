// Package claim implements the claim intake state machine: a single claim
// record that moves idle → analyzing → completed|error as the user selects a
// photo, asks for an estimate, and resets.
//
//	idle --(SelectImage)--> idle (image set)
//	idle (image set) --(StartAnalysis)--> analyzing
//	analyzing --(success)--> completed
//	analyzing --(failure)--> error
//	any --(Reset)--> idle (cleared)
//
// Every asynchronous completion (decode, analysis) is tagged with the
// generation current when it started and is dropped if a newer action has
// happened since, so a slow response can never resurrect a discarded claim.
package claim

import (
	"encoding/json"

	"github.com/fpang/vehicle-claim-estimator/internal/filehandler"
	"github.com/fpang/vehicle-claim-estimator/internal/report"
)

// Status is the lifecycle state of a claim.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusAnalyzing Status = "analyzing"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// FallbackErrorMessage is shown when an analysis failure carries no message.
const FallbackErrorMessage = "Failed to analyze bash. Check connection and try again."

// State is an immutable snapshot of the claim record. Report is set only in
// StatusCompleted and Error only in StatusError.
type State struct {
	Image  *filehandler.Payload
	Status Status
	Report *report.DamageReport
	Error  string
}

// HasImage reports whether a photo is selected.
func (s State) HasImage() bool {
	return s.Image != nil
}

// View is the JSON shape of a snapshot, matching the browser's ClaimState:
// the image travels as a data URI and error is omitted unless set.
type View struct {
	Image    *string              `json:"image"`
	HasImage bool                 `json:"hasImage"`
	Photo    *filehandler.Summary `json:"photo,omitempty"`
	Status   Status               `json:"status"`
	Report   *report.DamageReport `json:"report"`
	Error    string               `json:"error,omitempty"`
}

// View renders the snapshot for transport. With includeImage false the data
// URI is left out and only the photo summary is sent.
func (s State) View(includeImage bool) View {
	v := View{Status: s.Status, Report: s.Report, Error: s.Error}
	if s.Image != nil {
		v.HasImage = true
		v.Photo = s.Image.Summary()
		if includeImage {
			uri := s.Image.DataURI()
			v.Image = &uri
		}
	}
	return v
}

// MarshalJSON renders the snapshot with the image included.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.View(true))
}
