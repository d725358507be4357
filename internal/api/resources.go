package api

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/taskroom/realtime/internal/model"
)

// APIPresence is the wire form of a presence entry.
type APIPresence struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
	JoinedAt string `json:"joined_at"` // RFC3339
}

// PresenceResponse is the response from /projects/{id}/presence.
type PresenceResponse struct {
	RoomID string        `json:"room_id"`
	Users  []APIPresence `json:"users"`
}

// APIMember is the wire form of a project membership.
type APIMember struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
	Role     string `json:"role"`
	AddedAt  string `json:"added_at"` // RFC3339
}

// MembersResponse is the response from /projects/{id}/members.
type MembersResponse struct {
	Members []APIMember `json:"members"`
}

// APITask is the wire form of a task summary.
type APITask struct {
	ID        string `json:"id"` // UUID
	Title     string `json:"title"`
	Status    string `json:"status"`
	UpdatedBy string `json:"updated_by"`
	UpdatedAt string `json:"updated_at"` // RFC3339
}

// TasksResponse is a page of tasks from /projects/{id}/tasks.
type TasksResponse struct {
	Tasks  []APITask `json:"tasks"`
	Cursor string    `json:"cursor"`
}

// GetRoomPresence fetches who is currently online in a project room.
func (c *Client) GetRoomPresence(ctx context.Context, projectID string) ([]model.PresenceEntry, error) {
	var resp PresenceResponse
	if err := c.get(ctx, "/projects/"+projectID+"/presence", nil, &resp); err != nil {
		return nil, fmt.Errorf("get presence %s: %w", projectID, err)
	}

	entries := make([]model.PresenceEntry, 0, len(resp.Users))
	for _, u := range resp.Users {
		entries = append(entries, model.PresenceEntry{
			RoomID:   projectID,
			UserID:   u.UserID,
			UserName: u.UserName,
			JoinedAt: parseTime(u.JoinedAt),
		})
	}
	return entries, nil
}

// GetProjectMembers fetches the membership roster for a project.
func (c *Client) GetProjectMembers(ctx context.Context, projectID string) ([]model.Member, error) {
	var resp MembersResponse
	if err := c.get(ctx, "/projects/"+projectID+"/members", nil, &resp); err != nil {
		return nil, fmt.Errorf("get members %s: %w", projectID, err)
	}

	members := make([]model.Member, 0, len(resp.Members))
	for _, m := range resp.Members {
		members = append(members, model.Member{
			UserID:    m.UserID,
			UserName:  m.UserName,
			Role:      m.Role,
			ProjectID: projectID,
			AddedAt:   parseTime(m.AddedAt),
		})
	}
	return members, nil
}

// GetProjectTasks fetches all task summaries for a project, paginating
// through results.
func (c *Client) GetProjectTasks(ctx context.Context, projectID string) ([]model.Task, error) {
	var all []model.Task
	cursor := ""

	for {
		query := url.Values{}
		query.Set("limit", strconv.Itoa(200))
		if cursor != "" {
			query.Set("cursor", cursor)
		}

		var resp TasksResponse
		if err := c.get(ctx, "/projects/"+projectID+"/tasks", query, &resp); err != nil {
			return nil, fmt.Errorf("get tasks %s: %w", projectID, err)
		}

		for _, t := range resp.Tasks {
			all = append(all, convertTask(projectID, t))
		}

		if resp.Cursor == "" {
			break
		}
		cursor = resp.Cursor
	}

	return all, nil
}

func convertTask(projectID string, t APITask) model.Task {
	id, err := uuid.Parse(t.ID)
	if err != nil {
		id = uuid.Nil
	}
	return model.Task{
		ID:        id,
		ProjectID: projectID,
		Title:     t.Title,
		Status:    t.Status,
		UpdatedBy: t.UpdatedBy,
		UpdatedAt: parseTime(t.UpdatedAt),
	}
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
