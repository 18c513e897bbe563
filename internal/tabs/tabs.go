// Package tabs tracks the editor tabs a workspace session has open, per
// project. The model mirrors the editor surface: an ordered strip of open
// tabs, at most one active tab, and at most one preview tab. A preview tab
// is a transient slot; opening another file unpinned replaces it in place
// rather than growing the strip.
package tabs

import (
	"slices"
	"sync"
)

// State is a snapshot of one project's tab strip. The zero value is the
// empty strip. Tab ids are node ids; an empty ActiveTabID or PreviewTabID
// means no tab holds that role.
type State struct {
	OpenTabs     []string `json:"open_tabs"`
	ActiveTabID  string   `json:"active_tab_id"`
	PreviewTabID string   `json:"preview_tab_id"`
}

// Manager holds tab state for every project a single session has touched.
// It is safe for concurrent use; all operations are total and never fail.
type Manager struct {
	mu       sync.Mutex
	projects map[string]*State
}

// NewManager returns an empty per-session tab manager.
func NewManager() *Manager {
	return &Manager{projects: make(map[string]*State)}
}

func (m *Manager) state(projectID string) *State {
	s, ok := m.projects[projectID]
	if !ok {
		s = &State{}
		m.projects[projectID] = s
	}
	return s
}

// OpenFile opens tabID in the project's strip and returns the new state.
//
// An already-open tab is simply activated; if it was the preview tab and the
// open is pinned, the tab is promoted and the preview slot cleared. A new
// unpinned open replaces the current preview tab at its position (appending
// only when there is none) and becomes the preview. A new pinned open always
// appends and leaves the preview slot alone.
func (m *Manager) OpenFile(projectID, tabID string, pinned bool) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.state(projectID)

	if slices.Contains(s.OpenTabs, tabID) {
		s.ActiveTabID = tabID
		if pinned && s.PreviewTabID == tabID {
			s.PreviewTabID = ""
		}
		return snapshot(s)
	}

	if !pinned && s.PreviewTabID != "" {
		idx := slices.Index(s.OpenTabs, s.PreviewTabID)
		if idx >= 0 {
			s.OpenTabs[idx] = tabID
		} else {
			s.OpenTabs = append(s.OpenTabs, tabID)
		}
		s.PreviewTabID = tabID
		s.ActiveTabID = tabID
		return snapshot(s)
	}

	s.OpenTabs = append(s.OpenTabs, tabID)
	s.ActiveTabID = tabID
	if !pinned {
		s.PreviewTabID = tabID
	}
	return snapshot(s)
}

// CloseTab removes tabID from the strip. Closing the active tab activates
// the neighbor that slid into its position, or the new last tab, or nothing
// when the strip empties. Closing a tab that is not open changes nothing.
func (m *Manager) CloseTab(projectID, tabID string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.state(projectID)

	idx := slices.Index(s.OpenTabs, tabID)
	if idx < 0 {
		return snapshot(s)
	}
	s.OpenTabs = append(s.OpenTabs[:idx], s.OpenTabs[idx+1:]...)
	if s.PreviewTabID == tabID {
		s.PreviewTabID = ""
	}
	if s.ActiveTabID == tabID {
		switch {
		case idx < len(s.OpenTabs):
			s.ActiveTabID = s.OpenTabs[idx]
		case len(s.OpenTabs) > 0:
			s.ActiveTabID = s.OpenTabs[len(s.OpenTabs)-1]
		default:
			s.ActiveTabID = ""
		}
	}
	return snapshot(s)
}

// CloseAll resets the project's strip to empty.
func (m *Manager) CloseAll(projectID string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projects[projectID] = &State{}
	return State{OpenTabs: []string{}}
}

// SetActive marks tabID active without touching the strip or preview slot.
func (m *Manager) SetActive(projectID, tabID string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.state(projectID)
	s.ActiveTabID = tabID
	return snapshot(s)
}

// State returns the current snapshot for a project.
func (m *Manager) State(projectID string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return snapshot(m.state(projectID))
}

func snapshot(s *State) State {
	out := State{
		OpenTabs:     make([]string, len(s.OpenTabs)),
		ActiveTabID:  s.ActiveTabID,
		PreviewTabID: s.PreviewTabID,
	}
	copy(out.OpenTabs, s.OpenTabs)
	return out
}
