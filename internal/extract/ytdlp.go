package extract

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
)

var (
	percentRe = regexp.MustCompile(`(\d+(?:\.\d+)?)%`)

	// stderr lines that mean the source itself is bad; retrying with
	// another strategy cannot help.
	fatalPatterns = []string{
		"Video unavailable",
		"Private video",
		"Sign in to confirm your age",
		"This video has been removed",
	}
)

const execUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

// ExecStrategy shells out to a yt-dlp compatible binary and streams the
// best audio track from its stdout. Two instances cover the yt-dlp and
// youtube-dl binaries with identical argument handling.
type ExecStrategy struct {
	name       string
	binary     string
	cookieFile string
	scratchDir string
}

func NewExecStrategy(name, binary, cookieFile, scratchDir string) *ExecStrategy {
	return &ExecStrategy{
		name:       name,
		binary:     binary,
		cookieFile: cookieFile,
		scratchDir: scratchDir,
	}
}

func (s *ExecStrategy) Name() string { return s.name }

func (s *ExecStrategy) Attempt(ctx context.Context, url string, onProgress ProgressFunc) (io.ReadCloser, error) {
	if _, err := exec.LookPath(s.binary); err != nil {
		return nil, fmt.Errorf("%s not installed: %w", s.binary, err)
	}

	args := []string{
		"-f", "bestaudio",
		"-o", "-",
		"--no-playlist",
		"--no-check-certificate",
		"--no-warnings",
		"--retries", "3",
		"--fragment-retries", "3",
		"--user-agent", execUserAgent,
	}

	// Cookie jars often live on read-only mounts; yt-dlp wants to write
	// back to them, so each attempt works on a private copy in a
	// uniquely named scratch dir.
	scratch, cookiePath, err := s.prepareScratch()
	if err != nil {
		return nil, err
	}
	if cookiePath != "" {
		args = append(args, "--cookies", cookiePath)
	}
	args = append(args, url)

	cmd := exec.CommandContext(ctx, s.binary, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		removeScratch(scratch)
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		removeScratch(scratch)
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		removeScratch(scratch)
		return nil, fmt.Errorf("start %s: %w", s.binary, err)
	}

	es := &execStream{
		stdout:  stdout,
		cmd:     cmd,
		scratch: scratch,
		done:    make(chan struct{}),
	}

	go es.scanStderr(stderr, onProgress)
	go func() {
		es.waitErr = cmd.Wait()
		close(es.done)
	}()

	return es, nil
}

// prepareScratch creates the per-attempt scratch dir and copies the
// cookie jar into it. Returns empty paths when no cookie file is set.
func (s *ExecStrategy) prepareScratch() (string, string, error) {
	if s.cookieFile == "" {
		return "", "", nil
	}
	data, err := os.ReadFile(s.cookieFile)
	if err != nil {
		// Missing cookie jar is not fatal; proceed without one.
		return "", "", nil
	}

	dir := filepath.Join(s.scratchDir, "capture-"+uuid.New().String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", err
	}
	path := filepath.Join(dir, "cookies.txt")
	if err := os.WriteFile(path, data, 0o666); err != nil {
		removeScratch(dir)
		return "", "", err
	}
	return dir, path, nil
}

func removeScratch(dir string) {
	if dir != "" {
		os.RemoveAll(dir)
	}
}

// execStream adapts the subprocess stdout into the strategy stream
// contract: clean EOF only when the process exited successfully.
type execStream struct {
	stdout  io.ReadCloser
	cmd     *exec.Cmd
	scratch string
	done    chan struct{}
	waitErr error

	mu       sync.Mutex
	fatalErr error
	gotBytes bool
}

func (es *execStream) Read(p []byte) (int, error) {
	n, err := es.stdout.Read(p)
	if n > 0 {
		es.mu.Lock()
		es.gotBytes = true
		es.mu.Unlock()
	}
	if err == io.EOF {
		return n, es.finish()
	}
	if err != nil {
		if fatal := es.fatal(); fatal != nil {
			return n, fatal
		}
	}
	return n, err
}

// finish maps the process exit to the stream result. Exit code 1 with
// bytes already delivered counts as success with warnings.
func (es *execStream) finish() error {
	<-es.done

	if fatal := es.fatal(); fatal != nil {
		return fatal
	}
	if es.waitErr == nil {
		return io.EOF
	}

	es.mu.Lock()
	gotBytes := es.gotBytes
	es.mu.Unlock()

	if exitErr, ok := es.waitErr.(*exec.ExitError); ok && exitErr.ExitCode() == 1 && gotBytes {
		return io.EOF
	}
	return fmt.Errorf("downloader exited: %w", es.waitErr)
}

func (es *execStream) fatal() error {
	es.mu.Lock()
	defer es.mu.Unlock()
	return es.fatalErr
}

func (es *execStream) scanStderr(r io.Reader, onProgress ProgressFunc) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()

		// Cookie write failures on read-only mounts are noise.
		if strings.Contains(line, "OSError") || strings.Contains(line, "Read-only file system") {
			continue
		}

		for _, pattern := range fatalPatterns {
			if strings.Contains(line, pattern) {
				es.mu.Lock()
				if es.fatalErr == nil {
					es.fatalErr = unavailable(fmt.Errorf("%s", pattern))
				}
				es.mu.Unlock()
				if es.cmd.Process != nil {
					es.cmd.Process.Kill()
				}
				return
			}
		}

		if m := percentRe.FindStringSubmatch(line); m != nil && onProgress != nil {
			if pct, err := strconv.ParseFloat(m[1], 64); err == nil {
				onProgress(int(pct))
			}
		}
	}
}

func (es *execStream) Close() error {
	err := es.stdout.Close()
	if es.cmd.Process != nil {
		es.cmd.Process.Kill()
	}
	<-es.done
	removeScratch(es.scratch)
	return err
}
