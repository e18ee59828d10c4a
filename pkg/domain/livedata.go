package domain

import "time"

type StaleStatus string

const (
	StaleStatusFresh   StaleStatus = "FRESH"
	StaleStatusStale   StaleStatus = "STALE"
	StaleStatusMissing StaleStatus = "MISSING"
)

type RunStatus string

const (
	RunStatusQueued   RunStatus = "QUEUED"
	RunStatusStarted  RunStatus = "STARTED"
	RunStatusSuccess  RunStatus = "SUCCESS"
	RunStatusFailure  RunStatus = "FAILURE"
	RunStatusCanceled RunStatus = "CANCELED"
)

// Event is a materialization or observation of an asset by a run.
type Event struct {
	RunID     string    `json:"runId"`
	Timestamp time.Time `json:"timestamp"`
}

type StaleCause struct {
	Key        AssetKey  `json:"key"`
	Reason     string    `json:"reason"`
	Category   string    `json:"category"`
	Dependency *AssetKey `json:"dependency,omitempty"`
}

type Freshness struct {
	CurrentMinutesLate *float64 `json:"currentMinutesLate,omitempty"`
}

type PartitionStats struct {
	NumMaterialized  int `json:"numMaterialized"`
	NumMaterializing int `json:"numMaterializing"`
	NumPartitions    int `json:"numPartitions"`
	NumFailed        int `json:"numFailed"`
}

type CheckExecution struct {
	RunID  string `json:"runId"`
	Status string `json:"status"`
}

type AssetCheck struct {
	Name                              string          `json:"name"`
	ExecutionForLatestMaterialization *CheckExecution `json:"executionForLatestMaterialization,omitempty"`
}

// LiveData is the latest known runtime status of one asset.
type LiveData struct {
	AssetKey                     AssetKey        `json:"assetKey"`
	StepKey                      string          `json:"stepKey,omitempty"`
	OpNames                      []string        `json:"opNames,omitempty"`
	LastMaterialization          *Event          `json:"lastMaterialization,omitempty"`
	LastMaterializationRunStatus RunStatus       `json:"lastMaterializationRunStatus,omitempty"`
	LastObservation              *Event          `json:"lastObservation,omitempty"`
	UnstartedRunIDs              []string        `json:"unstartedRunIds,omitempty"`
	InProgressRunIDs             []string        `json:"inProgressRunIds,omitempty"`
	RunWhichFailedToMaterialize  string          `json:"runWhichFailedToMaterialize,omitempty"`
	StaleStatus                  StaleStatus     `json:"staleStatus,omitempty"`
	StaleCauses                  []StaleCause    `json:"staleCauses,omitempty"`
	Freshness                    *Freshness      `json:"freshnessInfo,omitempty"`
	PartitionStats               *PartitionStats `json:"partitionStats,omitempty"`
	AssetChecks                  []AssetCheck    `json:"assetChecks,omitempty"`
}

// RunIDs returns run ids which are not settled yet, including asset check executions.
func (ld *LiveData) RunIDs() []string {
	if ld == nil {
		return nil
	}
	ids := []string{}
	ids = append(ids, ld.UnstartedRunIDs...)
	ids = append(ids, ld.InProgressRunIDs...)
	for _, c := range ld.AssetChecks {
		if c.ExecutionForLatestMaterialization != nil && c.ExecutionForLatestMaterialization.RunID != "" {
			ids = append(ids, c.ExecutionForLatestMaterialization.RunID)
		}
	}
	return ids
}

// RunEvent is a notification from a run log that an asset or step made progress.
type RunEvent struct {
	RunID    string    `json:"runId"`
	AssetKey *AssetKey `json:"assetKey,omitempty"`
	StepKey  string    `json:"stepKey,omitempty"`
}
