package icloud

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"draftcal/internal/ics"
	"draftcal/internal/models"

	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"
	"github.com/google/uuid"
)

const (
	iCloudCalDAVEndpoint = "https://caldav.icloud.com/"
)

// customTransport handles adding Basic Auth and custom headers to requests.
type customTransport struct {
	Username  string
	Password  string
	Transport http.RoundTripper
}

// RoundTrip adds required headers and authentication to each request.
func (t *customTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.SetBasicAuth(t.Username, t.Password)
	req.Header.Set("User-Agent", "draftcal/1.0")
	return t.Transport.RoundTrip(req)
}

// CalDAVClient publishes drafts into one CalDAV calendar (iCloud by default).
type CalDAVClient struct {
	caldavClient *caldav.Client
	webdavClient *webdav.Client
	logger       *slog.Logger
	calendarPath string
}

// NewClient creates a CalDAVClient for iCloud and resolves the calendar by name.
func NewClient(ctx context.Context, logger *slog.Logger, username, password, calendarName string) (*CalDAVClient, error) {
	httpClient := &http.Client{
		Timeout: 30 * time.Second,
		Transport: &customTransport{
			Username:  username,
			Password:  password,
			Transport: http.DefaultTransport,
		},
	}

	c, err := newClient(logger, httpClient, iCloudCalDAVEndpoint)
	if err != nil {
		return nil, err
	}

	logger.Info("Finding iCloud calendar", "calendarName", calendarName)
	calendarPath, err := c.findCalendar(ctx, calendarName)
	if err != nil {
		return nil, fmt.Errorf("could not find calendar '%s': %w", calendarName, err)
	}
	c.calendarPath = calendarPath
	logger.Info("Successfully found iCloud calendar", "path", calendarPath)

	return c, nil
}

// NewClientForCalendar creates a CalDAVClient for a known calendar collection
// path, skipping discovery.
func NewClientForCalendar(logger *slog.Logger, httpClient *http.Client, endpoint, calendarPath string) (*CalDAVClient, error) {
	c, err := newClient(logger, httpClient, endpoint)
	if err != nil {
		return nil, err
	}
	c.calendarPath = calendarPath
	return c, nil
}

func newClient(logger *slog.Logger, httpClient *http.Client, endpoint string) (*CalDAVClient, error) {
	caldavClient, err := caldav.NewClient(httpClient, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create caldav client: %w", err)
	}

	webdavClient, err := webdav.NewClient(httpClient, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create webdav client: %w", err)
	}

	return &CalDAVClient{
		caldavClient: caldavClient,
		webdavClient: webdavClient,
		logger:       logger,
	}, nil
}

// Name identifies the target in publish state.
func (c *CalDAVClient) Name() string { return "icloud" }

// Publish writes the draft as a calendar object and returns its path.
func (c *CalDAVClient) Publish(ctx context.Context, d models.DraftEvent) (string, error) {
	c.logger.Debug("Publishing draft to CalDAV", "title", d.Title, "id", d.ID)

	vevent, err := ics.Event(d, time.Now())
	if err != nil {
		return "", fmt.Errorf("failed to convert draft: %w", err)
	}
	cal := ics.NewCalendar()
	cal.Children = append(cal.Children, vevent)

	objectPath := path.Join(c.calendarPath, objectName(d.ID))
	if _, err := c.caldavClient.PutCalendarObject(ctx, objectPath, cal); err != nil {
		return "", fmt.Errorf("failed to put event on CalDAV server: %w", err)
	}

	c.logger.Info("Successfully published draft to CalDAV", "title", d.Title, "path", objectPath)
	return objectPath, nil
}

// Retract removes a previously published calendar object.
func (c *CalDAVClient) Retract(ctx context.Context, remoteID string) error {
	if err := c.webdavClient.RemoveAll(ctx, remoteID); err != nil {
		return fmt.Errorf("failed to remove %s from CalDAV server: %w", remoteID, err)
	}
	c.logger.Info("Removed calendar object", "path", remoteID)
	return nil
}

// findCalendar discovers the user's calendars and returns the path of the one with the matching name.
func (c *CalDAVClient) findCalendar(ctx context.Context, name string) (string, error) {
	principalPath, err := c.caldavClient.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to find principal path: %w", err)
	}

	homeSetPath, err := c.caldavClient.FindCalendarHomeSet(ctx, principalPath)
	if err != nil {
		return "", fmt.Errorf("failed to find calendar home set: %w", err)
	}

	calendars, err := c.caldavClient.FindCalendars(ctx, homeSetPath)
	if err != nil {
		return "", fmt.Errorf("failed to find calendars: %w", err)
	}

	for _, cal := range calendars {
		if cal.Name == name {
			return cal.Path, nil
		}
	}

	return "", fmt.Errorf("no calendar found with name '%s'", name)
}

// objectName is the resource name of a draft. Ids unsafe in a path get a
// UUID derived from the id instead.
func objectName(id string) string {
	if id == "" || strings.ContainsAny(id, "/?#% ") {
		id = uuid.NewSHA1(uuid.NameSpaceURL, []byte(id)).String()
	}
	return id + ".ics"
}
