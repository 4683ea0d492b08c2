// Package browser locates and launches a local Chromium/Chrome binary in
// headless mode and drives it over the Chrome DevTools Protocol to render
// JavaScript-dependent pages for the crawl engine's render path.
package browser

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"syscall"
	"time"
)

// searchPathsByOS mirrors the platform-specific browser discovery list: a
// set of canonical install locations tried in order until one exists.
var searchPathsByOS = map[string][]string{
	"darwin": {
		"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
		"/Applications/Chromium.app/Contents/MacOS/Chromium",
		"/opt/homebrew/bin/chromium",
		"/usr/local/bin/chromium",
		"/Applications/Microsoft Edge.app/Contents/MacOS/Microsoft Edge",
		"/usr/local/bin/chrome",
	},
	"linux": {
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/usr/bin/google-chrome-stable",
	},
	"windows": {
		`C:\Program Files\Google\Chrome\Application\chrome.exe`,
		`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
		`C:\Program Files\Microsoft\Edge\Application\msedge.exe`,
	},
}

// FindBrowser returns the first existing binary from this platform's search
// list, or an error if none exist.
func FindBrowser() (string, error) {
	for _, path := range searchPathsByOS[runtime.GOOS] {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("browser: no browser binary found in the default search paths for %s", runtime.GOOS)
}

// Launcher starts and tears down one headless browser subprocess.
type Launcher struct {
	cmd         *exec.Cmd
	userDataDir string
}

// Launch starts path with CDP listening on port. If explicit is empty,
// FindBrowser is used to auto-discover a binary. headless controls whether
// --headless is passed (omit only for interactive debugging). If
// proxyServerAddr is non-empty, it is passed as --proxy-server, pointing the
// browser's network stack at the local proxy gateway.
func Launch(explicit string, port int, headless bool, proxyServerAddr string) (*Launcher, error) {
	path := explicit
	if path == "" {
		found, err := FindBrowser()
		if err != nil {
			return nil, err
		}
		path = found
	}

	userDataDir := filepath.Join(os.TempDir(), fmt.Sprintf("ghostcrawl_browser_%d", os.Getpid()))
	if err := os.MkdirAll(userDataDir, 0o700); err != nil {
		return nil, fmt.Errorf("browser: create user data dir: %w", err)
	}

	args := []string{
		"--headless",
		"--disable-gpu",
		"--disable-extensions",
		"--disable-backgrounding-occluded-windows",
		"--disable-renderer-backgrounding",
		"--window-size=1920,1080",
		"--hide-scrollbars",
		"--disable-notifications",
		"--no-sandbox",
		fmt.Sprintf("--remote-debugging-port=%d", port),
		"--user-data-dir=" + userDataDir,
		"--remote-allow-origins=*",
	}
	if !headless {
		args = removeArg(args, "--headless")
	}
	if proxyServerAddr != "" {
		args = append(args, "--proxy-server="+proxyServerAddr)
	}

	cmd := exec.Command(path, args...)
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("browser: start %s: %w", path, err)
	}

	time.Sleep(time.Second)

	return &Launcher{cmd: cmd, userDataDir: userDataDir}, nil
}

func removeArg(args []string, target string) []string {
	out := args[:0]
	for _, a := range args {
		if a != target {
			out = append(out, a)
		}
	}
	return out
}

// Close sends SIGTERM to the browser process, waits for it to exit, and
// removes its temporary user-data directory.
func (l *Launcher) Close() error {
	if l == nil || l.cmd == nil || l.cmd.Process == nil {
		return nil
	}
	_ = l.cmd.Process.Signal(syscall.SIGTERM)
	_, _ = l.cmd.Process.Wait()
	return os.RemoveAll(l.userDataDir)
}
