package builtin

import (
	"bufio"
	"context"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/glob"
	"github.com/jingkaihe/playbook/pkg/logger"
	"github.com/pkg/errors"
)

// DomainFilter restricts the hosts @link may fetch. Entries come from a
// newline separated file; lines starting with # are ignored and entries
// containing * or ? are glob patterns. An empty or missing file allows
// every host. Loopback hosts are always allowed.
type DomainFilter struct {
	path string

	mu       sync.RWMutex
	exact    map[string]struct{}
	patterns []glob.Glob
	modTime  time.Time
	loaded   bool
}

// NewDomainFilter returns a filter backed by path. A leading ~/ is expanded.
func NewDomainFilter(path string) *DomainFilter {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	}
	return &DomainFilter{path: path, exact: map[string]struct{}{}}
}

// reload rereads the file when its modification time changed.
func (f *DomainFilter) reload(ctx context.Context) {
	info, err := os.Stat(f.path)
	if err != nil {
		f.mu.Lock()
		f.exact, f.patterns, f.modTime, f.loaded = map[string]struct{}{}, nil, time.Time{}, true
		f.mu.Unlock()
		return
	}

	f.mu.RLock()
	fresh := f.loaded && info.ModTime().Equal(f.modTime)
	f.mu.RUnlock()
	if fresh {
		return
	}

	file, err := os.Open(f.path)
	if err != nil {
		logger.G(ctx).WithError(err).WithField("path", f.path).Warn("failed to open allowed domains file")
		return
	}
	defer file.Close()

	exact := map[string]struct{}{}
	var patterns []glob.Glob
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		host := normalizeHost(scanner.Text())
		if host == "" {
			continue
		}
		if strings.ContainsAny(host, "*?") {
			if g, err := glob.Compile(host, '.'); err == nil {
				patterns = append(patterns, g)
				continue
			}
		}
		exact[host] = struct{}{}
	}

	f.mu.Lock()
	f.exact, f.patterns, f.modTime, f.loaded = exact, patterns, info.ModTime(), true
	f.mu.Unlock()
}

// normalizeHost reduces a domains-file entry to a lower-case hostname.
func normalizeHost(line string) string {
	line = strings.ToLower(strings.TrimSpace(line))
	if line == "" || strings.HasPrefix(line, "#") {
		return ""
	}
	if !strings.Contains(line, "://") {
		line = "https://" + line
	}
	if parsed, err := url.Parse(line); err == nil && parsed.Hostname() != "" {
		return parsed.Hostname()
	}
	host := line[strings.Index(line, "://")+3:]
	if i := strings.IndexByte(host, '/'); i >= 0 {
		host = host[:i]
	}
	return host
}

// Allowed reports whether rawURL's host may be fetched.
func (f *DomainFilter) Allowed(ctx context.Context, rawURL string) (bool, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false, errors.Wrap(err, "invalid URL")
	}
	host := strings.ToLower(parsed.Hostname())
	if isLoopback(host) {
		return true, nil
	}

	f.reload(ctx)

	f.mu.RLock()
	defer f.mu.RUnlock()
	if len(f.exact) == 0 && len(f.patterns) == 0 {
		return true, nil
	}
	if _, ok := f.exact[host]; ok {
		return true, nil
	}
	for _, g := range f.patterns {
		if g.Match(host) {
			return true, nil
		}
	}
	return false, nil
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback() || ip.IsUnspecified()
	}
	return false
}
