package main

import (
	"context"
	"errors"
	"net"

	"savesync/internal/api"
)

func formatCLIError(err error) []string {
	if err == nil {
		return nil
	}

	lines := []string{err.Error()}

	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case "invalid_token":
			lines = append(lines, "hint: set a token with SAVESYNC_TOKEN or: savesync config set token <token> --global")
		case "forbidden":
			lines = append(lines, "hint: the server does not recognize your token; ask the operator to issue a new one.")
		case "not_found":
			lines = append(lines, "hint: nothing uploaded yet for this game; push a save first.")
		case "corrupt_state":
			lines = append(lines, "hint: the server lost the file behind this save; push it again to repair.")
		case "request_too_large":
			lines = append(lines, "hint: the server caps upload size with uploads.max_upload_bytes.")
		case "resource_exhausted":
			lines = append(lines, "hint: retry shortly; the server limits concurrent uploads.")
		}
		if apiErr.Code == "" {
			lines = append(lines, "hint: verify SAVESYNC_API_URL points to a savesync server.")
		}
		if api.StatusOf(err) >= 500 {
			lines = append(lines, "hint: server returned an internal error; check server logs for details.")
		}
		return uniqueLines(lines)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		lines = append(lines, "hint: request timed out; check server health or increase SAVESYNC_HTTP_TIMEOUT.")
		return uniqueLines(lines)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		lines = append(lines,
			"hint: ensure a savesync server is running at SAVESYNC_API_URL.",
			"hint: start a local server with: savesync srv",
		)
		return uniqueLines(lines)
	}

	return uniqueLines(lines)
}

func uniqueLines(lines []string) []string {
	seen := make(map[string]struct{}, len(lines))
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if line == "" {
			continue
		}
		if _, ok := seen[line]; ok {
			continue
		}
		seen[line] = struct{}{}
		out = append(out, line)
	}
	return out
}
