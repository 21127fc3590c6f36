package tui

import "github.com/Veraticus/autopay/internal/model"

// jobsLoadedMsg carries a fresh job listing.
type jobsLoadedMsg struct {
	jobs []model.ScheduledJob
}

// jobRemovedMsg reports a removed job.
type jobRemovedMsg struct {
	id string
}

// errMsg reports a failed load or removal.
type errMsg struct {
	err error
}
