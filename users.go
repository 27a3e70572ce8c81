package msclient

import (
	"context"
	"encoding/csv"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"
)

// ImportUsersCSV creates the users listed in a CSV file and gathers them in
// a new group named after the import date. Lines hold
// "first name;last name;email;company", the first line being a header.
// Failing rows are logged and skipped; the returned count only includes
// users actually created.
func (c *Client) ImportUsersCSV(ctx context.Context, csvPath string) (int, error) {
	f, err := os.Open(csvPath)
	if err != nil {
		return 0, fmt.Errorf("failed to open csv file: %w", err)
	}
	defer func() { _ = f.Close() }()

	reader := csv.NewReader(f)
	reader.Comma = ';'
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return 0, fmt.Errorf("failed to parse csv file: %w", err)
	}

	groupName := "Users imported from csv on " + time.Now().Format(time.ANSIC)
	group, err := c.Api(ctx, "groups/add/",
		WithMethod(http.MethodPost),
		WithData(map[string]any{"name": groupName}),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to create group: %w", err)
	}
	groupID := group.Int("id")
	c.log.Info().Str("name", groupName).Int64("id", groupID).Msg("created group")

	added := 0
	for index, row := range rows {
		// First line contains the header
		if index == 0 {
			continue
		}
		if len(row) < 4 {
			c.log.Warn().Int("line", index+1).Msg("ignoring incomplete csv line")
			continue
		}
		for i := range row {
			row[i] = strings.TrimSpace(row[i])
		}
		email := row[2]
		user := map[string]any{
			"email":      email,
			"first_name": row[0],
			"last_name":  row[1],
			"company":    row[3],
			"username":   email,
			"is_active":  "true",
		}
		c.log.Info().Str("email", email).Msg("adding user")
		if _, err := c.Api(ctx, "users/add/", WithMethod(http.MethodPost), WithData(user)); err != nil {
			c.log.Error().Str("email", email).Err(err).Msg("failed to add user")
			continue
		}
		added++
		_, err := c.Api(ctx, "groups/members/add/",
			WithMethod(http.MethodPost),
			WithData(map[string]any{"id": groupID, "user_email": email}),
		)
		if err != nil {
			c.log.Error().Str("email", email).Err(err).Msg("failed to add user to group")
		}
	}
	return added, nil
}
