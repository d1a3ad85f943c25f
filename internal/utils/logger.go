package utils

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger keeps the terminal quiet (warnings only) unless debug is set,
// so log lines do not tear through the live progress display.
func InitLogger(debug bool, logFile string) (io.Closer, error) {
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	var out io.Writer = os.Stderr
	var closer io.Closer = io.NopCloser(nil)
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, err
		}
		out, closer = f, f
	}
	SetLogOutput(out, logFile != "")
	return closer, nil
}

func SetLogOutput(w io.Writer, noColor bool) {
	output := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.DateTime,
		NoColor:    noColor,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}
