package output

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/term"
)

func FormatBytes(bytes int64) string {
	return humanize.IBytes(uint64(max(0, bytes)))
}

func FormatSpeed(bytes int64, elapsed time.Duration) string {
	if elapsed <= 0 {
		return "0 B/s"
	}
	bps := float64(bytes) / elapsed.Seconds()
	return humanize.IBytes(uint64(bps)) + "/s"
}

func ProgressBar(current, total int64, width int) string {
	if width <= 0 {
		width = 30
	}
	if total <= 0 {
		total = 1
	}
	current = max(0, min(current, total))
	percent := float64(current) / float64(total)
	filled := max(0, min(int(percent*float64(width)), width))
	bar := StyleSymbols["bullet"]
	bar += strings.Repeat(StyleSymbols["hline"], filled)
	bar += strings.Repeat(" ", width-filled)
	bar += StyleSymbols["bullet"]
	return fmt.Sprintf("%s %5.1f%%", bar, percent*100)
}

// ShortenName keeps the tail of long names, which usually holds the extension.
func ShortenName(name string, limit int) string {
	runes := []rune(name)
	if limit <= 3 || len(runes) <= limit {
		return name
	}
	return "..." + string(runes[len(runes)-(limit-3):])
}

func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

func terminalHeight(f *os.File) int {
	_, height, err := term.GetSize(int(f.Fd()))
	if err != nil || height <= 0 {
		return 24 // Default fallback height
	}
	return height
}
