// ABOUTME: Deployment run state machine and the typed errors a run can fail with.
// ABOUTME: Every fatal failure is surfaced as *Error naming the stage, folder and path.

package deploy

import (
	"fmt"
	"strings"
)

// State is the phase a deployment run is in.
type State int

// Deployment states.
const (
	// StateIdle - no run in progress, or the run finished successfully.
	StateIdle State = iota

	// StateCleaningFolders - synthesized folders are being removed and recreated.
	StateCleaningFolders

	// StateLinkingFolder - one logical folder is being overlaid.
	StateLinkingFolder

	// StateRebuildingPageRegistry - controllers are being scanned for page metadata.
	StateRebuildingPageRegistry

	// StateFailed - the run aborted. Terminal for the run.
	StateFailed
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCleaningFolders:
		return "cleaning-folders"
	case StateLinkingFolder:
		return "linking-folder"
	case StateRebuildingPageRegistry:
		return "rebuilding-page-registry"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Error is the umbrella for every condition that aborts a run.
type Error struct {
	Stage  State
	Folder string
	Path   string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "deploy failed while %s", e.Stage)
	if e.Folder != "" {
		fmt.Fprintf(&b, " %s", e.Folder)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, " at %s", e.Path)
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// CopyError reports an asset that could not be copied into the synthesized tree.
type CopyError struct {
	Src string
	Dst string
	Err error
}

func (e *CopyError) Error() string {
	return fmt.Sprintf("copy %s to %s: %v", e.Src, e.Dst, e.Err)
}

func (e *CopyError) Unwrap() error { return e.Err }

// InvalidControllerNameError reports a controller file whose name is not a
// safe identifier. Only that controller's page is skipped.
type InvalidControllerNameError struct {
	Name string
}

func (e InvalidControllerNameError) Error() string {
	return fmt.Sprintf("invalid controller name %q", e.Name)
}
