package google

import (
	"context"
	"time"

	"github.com/google/uuid"
	"google.golang.org/api/calendar/v3"
)

// Channel describes a push-notification subscription.
type Channel struct {
	ID         string
	ResourceID string
	Address    string
	Expiration time.Time
}

// Watch registers a web_hook channel that pushes change notifications for
// the calendar to callbackURL until ttl elapses. A non-empty token is echoed
// back by Google in the X-Goog-Channel-Token header.
func (c *CalendarClient) Watch(ctx context.Context, callbackURL string, ttl time.Duration, token string) (Channel, error) {
	requested := c.now().Add(ttl)
	req := &calendar.Channel{
		Id:         uuid.New().String(),
		Type:       "web_hook",
		Address:    callbackURL,
		Token:      token,
		Expiration: requested.UnixMilli(),
	}

	resp, err := c.service.Events.Watch(c.calendarID, req).Context(ctx).Do()
	if err != nil {
		c.logger.Error("Error setting up Google Calendar watch", "address", callbackURL, "error", err)
		return Channel{}, wrapError("watch", err)
	}

	ch := Channel{
		ID:         resp.Id,
		ResourceID: resp.ResourceId,
		Address:    callbackURL,
		Expiration: requested,
	}
	if ch.ID == "" {
		ch.ID = req.Id
	}
	// Google may shorten the requested horizon.
	if resp.Expiration > 0 {
		ch.Expiration = time.UnixMilli(resp.Expiration)
	}

	c.logger.Info("Google Calendar watch established", "channelID", ch.ID, "expiration", ch.Expiration)
	return ch, nil
}

// StopWatching cancels a channel. A channel that is already gone counts as stopped.
func (c *CalendarClient) StopWatching(ctx context.Context, channelID, resourceID string) error {
	err := c.service.Channels.Stop(&calendar.Channel{Id: channelID, ResourceId: resourceID}).Context(ctx).Do()
	if err != nil {
		wrapped := wrapError("stop watching", err)
		if IsNotFound(wrapped) {
			return nil
		}
		c.logger.Warn("Error stopping Google Calendar watch", "channelID", channelID, "error", err)
		return wrapped
	}

	c.logger.Info("Google Calendar watch stopped", "channelID", channelID)
	return nil
}
