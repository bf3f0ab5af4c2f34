package portfolio

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"
)

// ErrNotFound is returned when a project does not exist.
var ErrNotFound = errors.New("not found")

// Project is a portfolio entry.
type Project struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Summary   string    `json:"summary"`
	URL       string    `json:"url,omitempty"`
	Tags      []string  `json:"tags"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Message is a stored contact form submission.
type Message struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Subject    string    `json:"subject"`
	Body       string    `json:"message"`
	ClientIP   string    `json:"clientIp"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// Visit is one recorded page view.
type Visit struct {
	Path      string    `json:"path"`
	Referrer  string    `json:"referrer,omitempty"`
	ClientIP  string    `json:"-"`
	VisitedAt time.Time `json:"visitedAt"`
}

// ProjectFilter narrows ListProjects. Zero values match everything.
type ProjectFilter struct {
	Tag   string
	Limit int
}

// Repository persists portfolio data. Implementations must be safe for
// concurrent use.
type Repository interface {
	ListProjects(ctx context.Context, filter ProjectFilter) ([]Project, error)
	CreateProject(ctx context.Context, p Project) error
	UpdateProject(ctx context.Context, p Project) error
	DeleteProject(ctx context.Context, id string) error
	GetProject(ctx context.Context, id string) (Project, error)

	SaveMessage(ctx context.Context, m Message) error
	ListMessages(ctx context.Context) ([]Message, error)

	RecordVisit(ctx context.Context, v Visit) error
	VisitCounts(ctx context.Context) (map[string]int, error)
}

// MemoryRepository is an in-process Repository. Data does not survive a restart.
type MemoryRepository struct {
	mu       sync.RWMutex
	projects map[string]Project
	messages []Message
	visits   map[string]int
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		projects: make(map[string]Project),
		visits:   make(map[string]int),
	}
}

// ListProjects returns matching projects, newest first.
func (m *MemoryRepository) ListProjects(_ context.Context, filter ProjectFilter) ([]Project, error) {
	m.mu.RLock()
	out := make([]Project, 0, len(m.projects))
	for _, p := range m.projects {
		if filter.Tag != "" && !slices.ContainsFunc(p.Tags, func(t string) bool {
			return strings.EqualFold(t, filter.Tag)
		}) {
			continue
		}
		out = append(out, p)
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b Project) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// GetProject returns the project with id or ErrNotFound.
func (m *MemoryRepository) GetProject(_ context.Context, id string) (Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.projects[id]
	if !ok {
		return Project{}, ErrNotFound
	}
	return p, nil
}

// CreateProject stores p under p.ID.
func (m *MemoryRepository) CreateProject(_ context.Context, p Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.projects[p.ID] = p
	return nil
}

// UpdateProject replaces an existing project. Returns ErrNotFound if p.ID is
// unknown.
func (m *MemoryRepository) UpdateProject(_ context.Context, p Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.projects[p.ID]; !ok {
		return ErrNotFound
	}
	m.projects[p.ID] = p
	return nil
}

// DeleteProject removes a project. Returns ErrNotFound if id is unknown.
func (m *MemoryRepository) DeleteProject(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.projects[id]; !ok {
		return ErrNotFound
	}
	delete(m.projects, id)
	return nil
}

// SaveMessage appends a contact message.
func (m *MemoryRepository) SaveMessage(_ context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.messages = append(m.messages, msg)
	return nil
}

// ListMessages returns messages, newest first.
func (m *MemoryRepository) ListMessages(_ context.Context) ([]Message, error) {
	m.mu.RLock()
	out := slices.Clone(m.messages)
	m.mu.RUnlock()

	slices.Reverse(out)
	if out == nil {
		out = []Message{}
	}
	return out, nil
}

// RecordVisit counts a page view for v.Path.
func (m *MemoryRepository) RecordVisit(_ context.Context, v Visit) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.visits[v.Path]++
	return nil
}

// VisitCounts returns page view counts by path.
func (m *MemoryRepository) VisitCounts(_ context.Context) (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]int, len(m.visits))
	for path, n := range m.visits {
		out[path] = n
	}
	return out, nil
}
