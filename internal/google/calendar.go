package google

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"draftcal/internal/models"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

const (
	credentialsFile = "credentials.json"
	draftIDProperty = "draftcalDraftId"
)

// CalendarClient publishes drafts into one Google Calendar.
type CalendarClient struct {
	service    *calendar.Service
	logger     *slog.Logger
	calendarID string
}

// NewClient creates a new Google Calendar client.
// It handles loading credentials and setting up an authenticated HTTP client.
// The accountName selects the token file written by the auth command (token-<account>.json).
func NewClient(ctx context.Context, logger *slog.Logger, clientID, clientSecret, accountName, calendarID string) (*CalendarClient, error) {
	config, err := getOAuthConfig(clientID, clientSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to get OAuth config: %w", err)
	}

	tokenFile := fmt.Sprintf("token-%s.json", accountName)
	token, err := tokenFromFile(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("could not load token for account %s: %w. Please run the 'auth' command first", accountName, err)
	}

	return NewClientWithOptions(ctx, logger, calendarID, option.WithHTTPClient(config.Client(ctx, token)))
}

// NewClientWithOptions creates a client from explicit API options.
func NewClientWithOptions(ctx context.Context, logger *slog.Logger, calendarID string, opts ...option.ClientOption) (*CalendarClient, error) {
	if calendarID == "" {
		calendarID = "primary"
	}
	service, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	return &CalendarClient{service: service, logger: logger, calendarID: calendarID}, nil
}

// Name identifies the target in publish state.
func (c *CalendarClient) Name() string { return "google" }

// Publish inserts the draft as an event and returns the Google event id.
func (c *CalendarClient) Publish(ctx context.Context, d models.DraftEvent) (string, error) {
	c.logger.Debug("Publishing draft to Google Calendar", "calendarID", c.calendarID, "id", d.ID)

	created, err := c.service.Events.Insert(c.calendarID, toGoogleEvent(d)).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to insert event: %w", err)
	}

	c.logger.Info("Successfully published draft to Google Calendar", "title", d.Title, "eventID", created.Id)
	return created.Id, nil
}

// Retract deletes a previously published event.
func (c *CalendarClient) Retract(ctx context.Context, remoteID string) error {
	if err := c.service.Events.Delete(c.calendarID, remoteID).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to delete event %s: %w", remoteID, err)
	}
	c.logger.Info("Removed Google Calendar event", "eventID", remoteID)
	return nil
}

// toGoogleEvent converts a draft to a Google Calendar event. Attendees that
// are not email addresses are listed in the description instead.
func toGoogleEvent(d models.DraftEvent) *calendar.Event {
	ev := &calendar.Event{
		Summary:  d.Title,
		Location: d.Location,
		Status:   "confirmed",
		Start:    &calendar.EventDateTime{DateTime: d.StartTime},
		End:      &calendar.EventDateTime{DateTime: d.EndTime},
		ExtendedProperties: &calendar.EventExtendedProperties{
			Private: map[string]string{draftIDProperty: d.ID},
		},
	}

	var others []string
	for _, a := range d.Attendees {
		if strings.Contains(a, "@") {
			ev.Attendees = append(ev.Attendees, &calendar.EventAttendee{Email: a})
		} else {
			others = append(others, a)
		}
	}

	var desc []string
	if len(others) > 0 {
		desc = append(desc, "Attendees: "+strings.Join(others, ", "))
	}
	if len(d.Tags) > 0 {
		desc = append(desc, "Tags: "+strings.Join(d.Tags, ", "))
	}
	ev.Description = strings.Join(desc, "\n")
	return ev
}

// GetOAuthConfigForAuthFlow is used by the auth command to get the config for the web flow.
func GetOAuthConfigForAuthFlow(clientID, clientSecret string) (*oauth2.Config, error) {
	return getOAuthConfig(clientID, clientSecret)
}

// getOAuthConfig reads credentials and returns an OAuth2 config.
// It prioritizes environment variables over a local credentials.json file.
func getOAuthConfig(clientID, clientSecret string) (*oauth2.Config, error) {
	if clientID != "" && clientSecret != "" {
		return &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  "urn:ietf:wg:oauth:2.0:oob",
			Scopes:       []string{calendar.CalendarEventsScope},
			Endpoint:     google.Endpoint,
		}, nil
	}

	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		if _, ok := err.(*fs.PathError); ok {
			return nil, fmt.Errorf("credentials.json not found. Please provide GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET env vars or place credentials.json in the working directory")
		}
		return nil, fmt.Errorf("unable to read client secret file: %w", err)
	}

	config, err := google.ConfigFromJSON(b, calendar.CalendarEventsScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret file to config: %w", err)
	}
	config.RedirectURL = "urn:ietf:wg:oauth:2.0:oob"
	return config, nil
}

// TokenFromWeb is called by the auth flow to retrieve a token.
func TokenFromWeb(ctx context.Context, config *oauth2.Config, authCode string) (*oauth2.Token, error) {
	return config.Exchange(ctx, authCode)
}

// SaveToken saves a token to a file path.
func SaveToken(path string, token *oauth2.Token) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("unable to create token file: %w", err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(token)
}

// tokenFromFile retrieves a token from a local file.
func tokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	err = json.NewDecoder(f).Decode(tok)
	return tok, err
}

// DiscoverGoogleCalendars lists the ids of the calendars the account can write to.
func (c *CalendarClient) DiscoverGoogleCalendars(ctx context.Context) ([]string, error) {
	list, err := c.service.CalendarList.List().MinAccessRole("writer").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list calendars: %w", err)
	}

	var calendarIDs []string
	for _, item := range list.Items {
		calendarIDs = append(calendarIDs, item.Id)
	}
	return calendarIDs, nil
}

// GetTokenAccounts lists the account names that have a token file in dir.
func GetTokenAccounts(dir string) ([]string, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var accounts []string
	for _, file := range files {
		if strings.HasPrefix(file.Name(), "token-") && strings.HasSuffix(file.Name(), ".json") {
			accountName := strings.TrimSuffix(strings.TrimPrefix(file.Name(), "token-"), ".json")
			accounts = append(accounts, accountName)
		}
	}
	return accounts, nil
}
