package config

import (
	"fmt"
	"io"
)

// RenderEffective writes the resolved configuration as an annotated summary
// to w. This powers the "config show" command.
func RenderEffective(r *Resolved, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration (file: %s)\n\n", r.ConfigPath)

	ew.printf("[server]\n")
	ew.printf("  api_url    = %q\n", r.APIURL)
	ew.printf("  token_url  = %q\n", r.TokenURL)
	ew.printf("  client_id  = %q\n\n", r.ClientID)

	ew.printf("[sync]\n")
	ew.printf("  interval      = %q\n", r.Interval.String())
	ew.printf("  debounce      = %q\n", r.Debounce.String())
	ew.printf("  watch_store   = %t\n", r.WatchStore)
	ew.printf("  notifications = %t\n\n", r.Notifications)

	ew.printf("[network]\n")
	ew.printf("  metadata_timeout = %q\n", r.MetadataTimeout.String())
	ew.printf("  upload_timeout   = %q\n", r.UploadTimeout.String())
	ew.printf("  user_agent       = %q\n\n", r.UserAgent)

	ew.printf("[logging]\n")
	ew.printf("  log_level          = %q\n", r.Logging.LogLevel)
	ew.printf("  log_format         = %q\n", r.Logging.LogFormat)

	if r.Logging.LogFile != "" {
		ew.printf("  log_file           = %q\n", r.Logging.LogFile)
	}

	ew.printf("  log_max_size_mb    = %d\n", r.Logging.LogMaxSizeMB)
	ew.printf("  log_retention_days = %d\n\n", r.Logging.LogRetentionDays)

	ew.printf("[storage]\n")
	ew.printf("  data_dir  = %q\n", r.DataDir)
	ew.printf("  db_path   = %q\n", r.DBPath)
	ew.printf("  media_dir = %q\n", r.MediaDir)

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}
