package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"savesync/internal/format"
	"savesync/internal/models"
	"savesync/internal/store"
)

var outputFormatter format.Formatter = format.JSONFormatter{}

func writeJSON(payload any) error {
	return outputFormatter.Write(os.Stdout, payload)
}

func writePlain(format string, args ...any) error {
	_, err := fmt.Fprintf(os.Stdout, format, args...)
	return err
}

func writeSaveRecord(record models.SaveRecord) error {
	lines := []string{
		fmt.Sprintf("game_id: %s", record.GameID),
		fmt.Sprintf("filename: %s", record.Filename),
		fmt.Sprintf("filesize: %d", record.FileSize),
		fmt.Sprintf("updated_at: %s", formatTime(record.UpdatedTime())),
	}
	if record.SHA256 != "" {
		lines = append(lines, fmt.Sprintf("sha256: %s", record.SHA256))
	}
	return writePlain("%s\n", strings.Join(lines, "\n"))
}

func formatTokenLine(token store.Token, now time.Time) string {
	status := "active"
	switch {
	case token.RevokedAt != nil:
		status = "revoked"
	case !token.Active(now):
		status = "expired"
	}
	expires := "-"
	if token.ExpiresAt != nil {
		expires = formatTime(*token.ExpiresAt)
	}
	label := token.Label
	if label == "" {
		label = "-"
	}
	return fmt.Sprintf("%s\t%s\t%s\t%s\t%s\t%s", token.ID, token.UserID, status, formatTime(token.CreatedAt), expires, label)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
