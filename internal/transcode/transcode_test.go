package transcode

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/amankumarsingh77/av1-transcode-queue/internal/engine"
	"github.com/amankumarsingh77/av1-transcode-queue/internal/engine/fake"
	"github.com/amankumarsingh77/av1-transcode-queue/internal/failure"
	"github.com/amankumarsingh77/av1-transcode-queue/internal/models"
	"github.com/amankumarsingh77/av1-transcode-queue/internal/runner"
	"github.com/amankumarsingh77/av1-transcode-queue/internal/workspace"
	"github.com/amankumarsingh77/av1-transcode-queue/pkg/logger"
	"github.com/amankumarsingh77/av1-transcode-queue/pkg/utils"
)

const slot = "slot-0"

type fixture struct {
	dir     string
	workdir string
	config  string
	input   string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	f := fixture{
		dir:     dir,
		workdir: filepath.Join(dir, "enc"),
		config:  filepath.Join(dir, "encoding.json"),
		input:   filepath.Join(dir, "media", "movie.mp4"),
	}
	if err := os.WriteFile(f.config, []byte(`{"workdir": "`+f.workdir+`"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Dir(f.input), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(f.input, []byte("source"), 0o644); err != nil {
		t.Fatal(err)
	}
	return f
}

func (f fixture) job(output string) *models.TranscodeJob {
	if output == "" {
		output = utils.DefaultOutputPath(f.input)
	}
	return &models.TranscodeJob{InputPath: f.input, OutputPath: output, ConfigPath: f.config}
}

func (f fixture) workspaceFiles(t *testing.T) []string {
	t.Helper()
	var files []string
	root := workspace.JobRoot(f.workdir, slot)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("walk workspace: %v", err)
	}
	return files
}

func newOrchestrator(eng engine.Engine, store ObjectStore) *Orchestrator {
	log := logger.NewNop()
	return NewOrchestrator(eng, NewStager(store, log), workspace.NewManager(log), log, runner.WithInterval(time.Millisecond))
}

func TestRunSuccess(t *testing.T) {
	f := newFixture(t)
	eng := &fake.Engine{
		Streams:      []string{"video/x-h264", "audio/x-aac"},
		Script:       []engine.Message{{Type: engine.MessageEOS}},
		MessageDelay: 5 * time.Millisecond,
		Duration:     10 * time.Second,
		Positions:    []time.Duration{5 * time.Second, 10 * time.Second},
	}
	job := f.job("")
	rep := newOrchestrator(eng, nil).Run(context.Background(), slot, job)
	if rep.Outcome != OutcomeSuccess || rep.Err != nil {
		t.Fatalf("report = %+v", rep)
	}
	if job.OutputPath != filepath.Join(f.dir, "media", "movie.av1.mp4") {
		t.Errorf("output path = %s", job.OutputPath)
	}
	data, err := os.ReadFile(job.OutputPath)
	if err != nil || string(data) != "encoded" {
		t.Fatalf("output = %q, %v", data, err)
	}
	if files := f.workspaceFiles(t); len(files) != 0 {
		t.Errorf("workspace not cleaned: %v", files)
	}
	for _, dir := range []string{"in", "out"} {
		if info, err := os.Stat(filepath.Join(workspace.JobRoot(f.workdir, slot), dir)); err != nil || !info.IsDir() {
			t.Errorf("workspace dir %s removed", dir)
		}
	}
	if !strings.HasPrefix(rep.StatusLine(), "Done! Total time: ") {
		t.Errorf("status line = %q", rep.StatusLine())
	}
}

func TestRunBuildFailure(t *testing.T) {
	f := newFixture(t)
	eng := &fake.Engine{Unavailable: map[string]bool{"svtav1enc": true}}
	rep := newOrchestrator(eng, nil).Run(context.Background(), slot, f.job(""))
	if rep.Outcome != OutcomeBuildFailure || failure.KindOf(rep.Err) != failure.KindBuild {
		t.Fatalf("report = %+v", rep)
	}
	if !strings.Contains(rep.Err.Error(), "svtav1enc") {
		t.Errorf("error does not name the missing stage: %v", rep.Err)
	}
	if len(eng.Graphs()) != 0 {
		t.Error("graph created for a failed build")
	}
	if files := f.workspaceFiles(t); len(files) != 0 {
		t.Errorf("workspace not cleaned: %v", files)
	}
}

func TestRunRuntimeFailure(t *testing.T) {
	f := newFixture(t)
	eng := &fake.Engine{
		Script: []engine.Message{{
			Type:   engine.MessageError,
			Source: "video_encoder",
			Err:    errors.New("encode failed"),
			Debug:  "svt: invalid parameter",
		}},
	}
	job := f.job("")
	rep := newOrchestrator(eng, nil).Run(context.Background(), slot, job)
	if rep.Outcome != OutcomeRuntimeFailure {
		t.Fatalf("report = %+v", rep)
	}
	if _, err := os.Stat(job.OutputPath); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("output written after a failed run: %v", err)
	}
	line := rep.StatusLine()
	if !strings.HasPrefix(line, "Error: ") || !strings.HasSuffix(line, "Debug: svt: invalid parameter") {
		t.Errorf("status line = %q", line)
	}
	if files := f.workspaceFiles(t); len(files) != 0 {
		t.Errorf("workspace not cleaned: %v", files)
	}
}

func TestRunInterrupted(t *testing.T) {
	f := newFixture(t)
	eng := &fake.Engine{Duration: time.Minute, Positions: []time.Duration{time.Second}}
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	job := f.job("")
	rep := newOrchestrator(eng, nil).Run(ctx, slot, job)
	if rep.Outcome != OutcomeInterrupted || rep.Err != nil {
		t.Fatalf("report = %+v", rep)
	}
	if rep.StatusLine() != "Interrupted by user." {
		t.Errorf("status line = %q", rep.StatusLine())
	}
	if _, err := os.Stat(job.OutputPath); !errors.Is(err, fs.ErrNotExist) {
		t.Error("output written after an interrupt")
	}
	g := eng.Graphs()[0]
	if !g.Stopped() || !g.Released() {
		t.Error("graph left running after interrupt")
	}
	if files := f.workspaceFiles(t); len(files) != 0 {
		t.Errorf("workspace not cleaned: %v", files)
	}
}

func TestRunConfigFailure(t *testing.T) {
	f := newFixture(t)
	if err := os.WriteFile(f.config, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	eng := &fake.Engine{}
	rep := newOrchestrator(eng, nil).Run(context.Background(), slot, f.job(""))
	if rep.Outcome != OutcomeConfigFailure || failure.KindOf(rep.Err) != failure.KindConfig {
		t.Fatalf("report = %+v", rep)
	}
	if len(eng.Graphs()) != 0 {
		t.Error("graph built with a broken config")
	}
}

func TestRunMissingInput(t *testing.T) {
	f := newFixture(t)
	job := f.job("")
	job.InputPath = filepath.Join(f.dir, "media", "missing.mp4")
	rep := newOrchestrator(&fake.Engine{}, nil).Run(context.Background(), slot, job)
	if rep.Outcome != OutcomeStagingFailure || !failure.IsRetryable(rep.Err) {
		t.Fatalf("report = %+v", rep)
	}
}

func TestRunWorkspaceCollision(t *testing.T) {
	f := newFixture(t)
	root := workspace.JobRoot(f.workdir, slot)
	if err := os.MkdirAll(f.workdir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(root, []byte("not a dir"), 0o644); err != nil {
		t.Fatal(err)
	}
	rep := newOrchestrator(&fake.Engine{}, nil).Run(context.Background(), slot, f.job(""))
	if rep.Outcome != OutcomeWorkspaceFailure {
		t.Fatalf("report = %+v", rep)
	}
	if data, err := os.ReadFile(root); err != nil || string(data) != "not a dir" {
		t.Error("colliding file was touched")
	}
}

func waitPlaying(t *testing.T, eng *fake.Engine) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		if gs := eng.Graphs(); len(gs) == 1 && gs[0].Played() {
			return
		}
		select {
		case <-deadline:
			t.Fatal("graph never started playing")
		case <-time.After(2 * time.Millisecond):
		}
	}
}

func TestRunConcurrentJobsOnOneSlot(t *testing.T) {
	f := newFixture(t)
	slow := &fake.Engine{Duration: time.Minute, Positions: []time.Duration{time.Second}}
	jobA := f.job("")
	jobA.JobID = "job-a"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan Report, 1)
	go func() {
		done <- newOrchestrator(slow, nil).Run(ctx, slot, jobA)
	}()
	waitPlaying(t, slow)
	if info, err := os.Stat(workspace.JobRoot(f.workdir, "job-a")); err != nil || !info.IsDir() {
		t.Fatalf("job-a workspace missing while running: %v", err)
	}

	jobB := f.job(filepath.Join(f.dir, "media", "b.av1.mp4"))
	jobB.JobID = "job-b"
	fast := &fake.Engine{Script: []engine.Message{{Type: engine.MessageEOS}}}
	rep := newOrchestrator(fast, nil).Run(context.Background(), slot, jobB)
	if rep.Outcome != OutcomeSuccess {
		t.Fatalf("second job on the same slot: %+v", rep)
	}

	cancel()
	select {
	case rep := <-done:
		if rep.Outcome != OutcomeInterrupted {
			t.Errorf("first job = %+v", rep)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("first job did not stop")
	}
	for _, id := range []string{"job-a", "job-b"} {
		root := workspace.JobRoot(f.workdir, id)
		if _, err := os.Stat(root); !errors.Is(err, fs.ErrNotExist) {
			t.Errorf("workspace %s left behind: %v", id, err)
		}
		if _, err := os.Stat(root + ".lock"); !errors.Is(err, fs.ErrNotExist) {
			t.Errorf("lock file of %s left behind: %v", id, err)
		}
	}
}

func TestRunSameJobTwiceIsRetryable(t *testing.T) {
	f := newFixture(t)
	slow := &fake.Engine{Duration: time.Minute, Positions: []time.Duration{time.Second}}
	job := f.job("")
	job.JobID = "job-a"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Report, 1)
	go func() {
		done <- newOrchestrator(slow, nil).Run(ctx, slot, job)
	}()
	waitPlaying(t, slow)

	dup := *job
	rep := newOrchestrator(&fake.Engine{}, nil).Run(context.Background(), slot, &dup)
	cancel()
	<-done
	if rep.Outcome != OutcomeWorkspaceFailure || failure.KindOf(rep.Err) != failure.KindBusy || !failure.IsRetryable(rep.Err) {
		t.Fatalf("report = %+v", rep)
	}
}

func TestRunCancelledWhileStaging(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	eng := &fake.Engine{}
	rep := newOrchestrator(eng, nil).Run(ctx, slot, f.job(""))
	if rep.Outcome != OutcomeInterrupted || rep.Err != nil {
		t.Fatalf("report = %+v", rep)
	}
	if len(eng.Graphs()) != 0 {
		t.Error("graph built after the copy was cancelled")
	}
	if files := f.workspaceFiles(t); len(files) != 0 {
		t.Errorf("workspace not cleaned: %v", files)
	}
}

type blockingStore struct{}

func (blockingStore) Download(ctx context.Context, _, _, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}

func (blockingStore) Upload(context.Context, string, string, string) error {
	return nil
}

func TestRunCancelledDuringDownload(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	job := &models.TranscodeJob{
		JobID:      "job-s3",
		InputPath:  "s3://media/in/movie.mp4",
		OutputPath: "s3://media/in/movie.av1.mp4",
		ConfigPath: f.config,
	}
	rep := newOrchestrator(&fake.Engine{}, blockingStore{}).Run(ctx, slot, job)
	if rep.Outcome != OutcomeInterrupted {
		t.Fatalf("report = %+v", rep)
	}
}

type memStore struct {
	mu       sync.Mutex
	objects  map[string][]byte
	uploaded map[string][]byte
}

func (m *memStore) Download(_ context.Context, bucket, key, dst string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[bucket+"/"+key]
	if !ok {
		return errors.New("NoSuchKey")
	}
	return os.WriteFile(dst, data, 0o644)
}

func (m *memStore) Upload(_ context.Context, bucket, key, src string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploaded[bucket+"/"+key] = data
	return nil
}

func TestRunObjectStorePaths(t *testing.T) {
	f := newFixture(t)
	store := &memStore{
		objects:  map[string][]byte{"media/in/movie.mp4": []byte("source")},
		uploaded: map[string][]byte{},
	}
	eng := &fake.Engine{Script: []engine.Message{{Type: engine.MessageEOS}}}
	job := &models.TranscodeJob{
		InputPath:  "s3://media/in/movie.mp4",
		OutputPath: utils.DefaultOutputPath("s3://media/in/movie.mp4"),
		ConfigPath: f.config,
	}
	rep := newOrchestrator(eng, store).Run(context.Background(), slot, job)
	if rep.Outcome != OutcomeSuccess {
		t.Fatalf("report = %+v", rep)
	}
	if got := string(store.uploaded["media/in/movie.av1.mp4"]); got != "encoded" {
		t.Errorf("uploaded %q", got)
	}
}

func TestStageInWithoutStore(t *testing.T) {
	_, err := NewStager(nil, logger.NewNop()).StageIn(context.Background(), "s3://b/k.mp4", t.TempDir())
	if failure.KindOf(err) != failure.KindStaging {
		t.Errorf("err = %v, want staging failure", err)
	}
}

func TestParseS3URI(t *testing.T) {
	cases := []struct {
		in          string
		bucket, key string
		ok          bool
	}{
		{"s3://media/in/a.mp4", "media", "in/a.mp4", true},
		{"s3://media/a.mp4", "media", "a.mp4", true},
		{"s3://media", "", "", false},
		{"s3:///a.mp4", "", "", false},
		{"/local/a.mp4", "", "", false},
	}
	for _, c := range cases {
		bucket, key, ok := ParseS3URI(c.in)
		if bucket != c.bucket || key != c.key || ok != c.ok {
			t.Errorf("ParseS3URI(%q) = %q, %q, %v", c.in, bucket, key, ok)
		}
	}
	if BaseName("s3://media/in/a.mp4") != "a.mp4" || BaseName("/x/y/b.mkv") != "b.mkv" {
		t.Error("BaseName")
	}
}
