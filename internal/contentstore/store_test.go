package contentstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/keithlinneman/linnemanlabs-cv/internal/cv"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T, opts Options) *Store {
	t.Helper()
	if opts.Dir == "" {
		opts.Dir = t.TempDir()
	}
	s, err := New(context.Background(), opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func readFile(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return data
}

func readBackup(t *testing.T, s *Store, name string) cv.Document {
	t.Helper()
	var doc cv.Document
	if err := json.Unmarshal(readFile(t, filepath.Join(s.backupDir, name)), &doc); err != nil {
		t.Fatalf("decode backup %s: %v", name, err)
	}
	return doc
}

func setName(name string) cv.Patch {
	return cv.Patch{PersonalInfo: &cv.PersonalInfo{Name: name}}
}

// New

func TestNew_RequiresDir(t *testing.T) {
	if _, err := New(context.Background(), Options{}); err == nil {
		t.Fatal("expected error for empty Dir")
	}
}

func TestNew_CreatesBackupDir(t *testing.T) {
	s := newTestStore(t, Options{})
	fi, err := os.Stat(s.backupDir)
	if err != nil {
		t.Fatalf("stat backup dir: %v", err)
	}
	if !fi.IsDir() {
		t.Fatal("backup path is not a directory")
	}
	if _, err := os.Stat(s.livePath); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("live file should not exist before first use, stat err = %v", err)
	}
}

// Load

func TestLoad_SeedsDefault(t *testing.T) {
	clk := newFakeClock()
	s := newTestStore(t, Options{Now: clk.Now})

	doc, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if missing := doc.MissingFields(); len(missing) != 0 {
		t.Fatalf("seeded document missing %v", missing)
	}
	if !doc.UpdatedAt.Equal(clk.Now()) {
		t.Fatalf("UpdatedAt = %v, want %v", doc.UpdatedAt, clk.Now())
	}
	if _, err := os.Stat(s.livePath); err != nil {
		t.Fatalf("live file not written: %v", err)
	}

	names, err := s.ListBackups(context.Background())
	if err != nil {
		t.Fatalf("ListBackups: %v", err)
	}
	if len(names) != 0 {
		t.Fatalf("seeding a fresh store created backups: %v", names)
	}

	again, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("second Load: %v", err)
	}
	if again.ID != doc.ID {
		t.Fatalf("second Load reseeded: id %q != %q", again.ID, doc.ID)
	}
}

func TestLoad_LiveFileIsIndentedJSON(t *testing.T) {
	s := newTestStore(t, Options{})
	if _, err := s.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	data := readFile(t, s.livePath)
	if !bytes.HasPrefix(data, []byte("{\n  \"id\": ")) {
		t.Fatalf("live file not pretty printed: %q", data[:min(len(data), 40)])
	}
}

func TestLoad_RecoversCorruptLiveFile(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"garbage", []byte("\x00\x01not json at all")},
		{"truncated", []byte(`{"id":"abc","personalInfo":{"na`)},
		{"missing fields", []byte(`{"id":"abc","personalInfo":{"name":"x"}}`)},
		{"wrong type", []byte(`{"id":"abc","experiences":"nope"}`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recovered := 0
			s := newTestStore(t, Options{OnRecovered: func() { recovered++ }})
			if err := os.WriteFile(s.livePath, tt.data, 0o640); err != nil {
				t.Fatal(err)
			}

			doc, err := s.Load(context.Background())
			if err != nil {
				t.Fatalf("Load returned error for corrupt file: %v", err)
			}
			if missing := doc.MissingFields(); len(missing) != 0 {
				t.Fatalf("reseeded document missing %v", missing)
			}
			if doc.PersonalInfo.Name != cv.Default().PersonalInfo.Name {
				t.Fatalf("name = %q, want default", doc.PersonalInfo.Name)
			}
			if recovered != 1 {
				t.Fatalf("OnRecovered called %d times, want 1", recovered)
			}

			// the bad bytes survive as a backup
			names, err := s.ListBackups(context.Background())
			if err != nil {
				t.Fatalf("ListBackups: %v", err)
			}
			if len(names) != 1 {
				t.Fatalf("backups = %v, want 1", names)
			}
			if got := readFile(t, filepath.Join(s.backupDir, names[0])); !bytes.Equal(got, tt.data) {
				t.Fatalf("backup = %q, want verbatim %q", got, tt.data)
			}
		})
	}
}

// A live file from the earlier site: snake_case stamp, fractional proficiency.
func TestLoad_KeepsLegacyLiveFile(t *testing.T) {
	recovered := 0
	s := newTestStore(t, Options{OnRecovered: func() { recovered++ }})
	body := `{
  "personalInfo": {"name": "Keith"},
  "experiences": [],
  "education": [],
  "skills": {"mobile": ["Kotlin"]},
  "languages": [{"name": "English", "level": "B2", "proficiency": 75.5}],
  "aboutDescription": {"en": "hi"},
  "updated_at": "2024-05-06T07:08:09.123456"
}`
	if err := os.WriteFile(s.livePath, []byte(body), 0o640); err != nil {
		t.Fatal(err)
	}

	doc, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if recovered != 0 || doc.PersonalInfo.Name != "Keith" {
		t.Fatalf("legacy file reseeded: recovered=%d name=%q", recovered, doc.PersonalInfo.Name)
	}
	if got := doc.Languages[0].Proficiency; got != 76 {
		t.Fatalf("proficiency = %d, want 76", got)
	}
	want := time.Date(2024, 5, 6, 7, 8, 9, 123456000, time.UTC)
	if !doc.UpdatedAt.Equal(want) {
		t.Fatalf("UpdatedAt = %v, want %v", doc.UpdatedAt, want)
	}
	names, err := s.ListBackups(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 0 {
		t.Fatalf("backups = %v, want none", names)
	}
}

func TestLoad_ConcurrentReseedOnce(t *testing.T) {
	s := newTestStore(t, Options{})
	if err := os.WriteFile(s.livePath, []byte("garbage"), 0o640); err != nil {
		t.Fatal(err)
	}

	const n = 16
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			doc, err := s.Load(context.Background())
			if err != nil {
				t.Errorf("Load: %v", err)
				return
			}
			ids[i] = doc.ID
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("concurrent loads saw different seeds: %q vs %q", ids[i], ids[0])
		}
	}
	names, _ := s.ListBackups(context.Background())
	if len(names) != 1 {
		t.Fatalf("backups = %d, want exactly one reseed", len(names))
	}
}

// Update

func TestUpdate_MergesOnlyPresentFields(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()
	before, err := s.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}

	p := cv.Patch{
		PersonalInfo: &cv.PersonalInfo{Name: "A", Email: "a@example.com"},
		Languages:    []cv.Language{{Name: "German", Level: "B2", Proficiency: 70}},
	}
	after, err := s.Update(ctx, p)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	if !reflect.DeepEqual(after.PersonalInfo, p.PersonalInfo) {
		t.Fatalf("personalInfo = %+v, want %+v", after.PersonalInfo, p.PersonalInfo)
	}
	if !reflect.DeepEqual(after.Languages, p.Languages) {
		t.Fatalf("languages = %+v, want %+v", after.Languages, p.Languages)
	}
	if after.ID != before.ID {
		t.Fatal("id changed")
	}
	if !reflect.DeepEqual(after.Experiences, before.Experiences) ||
		!reflect.DeepEqual(after.Education, before.Education) ||
		!reflect.DeepEqual(after.Skills, before.Skills) ||
		!reflect.DeepEqual(after.AboutDescription, before.AboutDescription) {
		t.Fatal("fields absent from the patch changed")
	}

	loaded, err := s.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(loaded.PersonalInfo, p.PersonalInfo) {
		t.Fatal("update not persisted")
	}
}

func TestUpdate_EmptyListReplaces(t *testing.T) {
	s := newTestStore(t, Options{})
	doc, err := s.Update(context.Background(), cv.Patch{Experiences: []cv.Experience{}})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if doc.Experiences == nil || len(doc.Experiences) != 0 {
		t.Fatalf("experiences = %#v, want empty", doc.Experiences)
	}

	loaded, _ := s.Load(context.Background())
	if loaded.Experiences == nil {
		t.Fatal("empty list stored as null")
	}
}

func TestUpdate_StampsUpdatedAt(t *testing.T) {
	clk := newFakeClock()
	s := newTestStore(t, Options{Now: clk.Now})
	if _, err := s.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	clk.Advance(time.Hour)
	doc, err := s.Update(context.Background(), setName("A"))
	if err != nil {
		t.Fatal(err)
	}
	if !doc.UpdatedAt.Equal(clk.Now()) {
		t.Fatalf("UpdatedAt = %v, want %v", doc.UpdatedAt, clk.Now())
	}
}

func TestUpdate_RejectsOutOfRangeProficiency(t *testing.T) {
	s := newTestStore(t, Options{})
	if _, err := s.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	before := readFile(t, s.livePath)

	_, err := s.Update(context.Background(), cv.Patch{Languages: []cv.Language{{Name: "x", Proficiency: 150}}})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
	if !bytes.Equal(readFile(t, s.livePath), before) {
		t.Fatal("live file changed after rejected update")
	}
}

// Mutate

func TestMutate_ErrorAbortsWrite(t *testing.T) {
	s := newTestStore(t, Options{})
	if _, err := s.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	before := readFile(t, s.livePath)

	sentinel := errors.New("no such item")
	_, err := s.Mutate(context.Background(), func(d *cv.Document) error {
		d.PersonalInfo.Name = "changed"
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want sentinel", err)
	}
	if !bytes.Equal(readFile(t, s.livePath), before) {
		t.Fatal("live file changed after aborted mutate")
	}
	names, _ := s.ListBackups(context.Background())
	if len(names) != 0 {
		t.Fatalf("aborted mutate created backups: %v", names)
	}
}

func TestMutate_RejectsRemovingRequiredField(t *testing.T) {
	s := newTestStore(t, Options{})
	_, err := s.Mutate(context.Background(), func(d *cv.Document) error {
		d.Skills = nil
		return nil
	})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want *ValidationError", err)
	}
	if !reflect.DeepEqual(ve.Missing, []string{cv.FieldSkills}) {
		t.Fatalf("Missing = %v", ve.Missing)
	}
}

// Import

func TestImport_RejectsMissingFieldsWithoutWriting(t *testing.T) {
	for _, field := range cv.RequiredFields {
		t.Run(field, func(t *testing.T) {
			clk := newFakeClock()
			s := newTestStore(t, Options{Now: clk.Now})
			ctx := context.Background()
			before, err := s.Load(ctx)
			if err != nil {
				t.Fatal(err)
			}
			beforeBytes := readFile(t, s.livePath)
			fi, err := os.Stat(s.livePath)
			if err != nil {
				t.Fatal(err)
			}
			clk.Advance(time.Minute)

			doc := cv.Default()
			switch field {
			case cv.FieldPersonalInfo:
				doc.PersonalInfo = nil
			case cv.FieldExperiences:
				doc.Experiences = nil
			case cv.FieldEducation:
				doc.Education = nil
			case cv.FieldSkills:
				doc.Skills = nil
			case cv.FieldLanguages:
				doc.Languages = nil
			case cv.FieldAboutDescription:
				doc.AboutDescription = nil
			}

			_, err = s.Import(ctx, doc)
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("err = %v, want ErrValidation", err)
			}
			var ve *ValidationError
			if !errors.As(err, &ve) || !reflect.DeepEqual(ve.Missing, []string{field}) {
				t.Fatalf("err = %v, want missing [%s]", err, field)
			}

			after, err := s.Load(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if after.ID != before.ID || !after.UpdatedAt.Equal(before.UpdatedAt) {
				t.Fatal("live document changed after rejected import")
			}
			if !bytes.Equal(readFile(t, s.livePath), beforeBytes) {
				t.Fatal("live file bytes changed")
			}
			fi2, err := os.Stat(s.livePath)
			if err != nil {
				t.Fatal(err)
			}
			if !fi2.ModTime().Equal(fi.ModTime()) {
				t.Fatalf("mtime changed: %v -> %v", fi.ModTime(), fi2.ModTime())
			}
			names, _ := s.ListBackups(ctx)
			if len(names) != 0 {
				t.Fatalf("rejected import created backups: %v", names)
			}
		})
	}
}

func TestImport_ReplacesDocument(t *testing.T) {
	clk := newFakeClock()
	s := newTestStore(t, Options{Now: clk.Now})
	ctx := context.Background()
	if _, err := s.Update(ctx, cv.Patch{Skills: map[string][]string{"old": {"x"}}}); err != nil {
		t.Fatal(err)
	}

	in := cv.Document{
		ID:               "imported-id",
		PersonalInfo:     &cv.PersonalInfo{Name: "Imported"},
		Experiences:      []cv.Experience{{Title: "Engineer"}},
		Education:        []cv.Education{},
		Skills:           map[string][]string{"new": {"y"}},
		Languages:        []cv.Language{},
		AboutDescription: map[string]string{"en": "hi"},
		UpdatedAt:        time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	doc, err := s.Import(ctx, in)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if doc.ID != "imported-id" {
		t.Fatalf("id = %q, want supplied id", doc.ID)
	}
	if _, ok := doc.Skills["old"]; ok {
		t.Fatal("import merged instead of replacing")
	}
	if doc.Experiences[0].ID == "" {
		t.Fatal("experience without id was not assigned one")
	}
	if !doc.UpdatedAt.Equal(clk.Now()) {
		t.Fatalf("UpdatedAt = %v, caller value should be overwritten", doc.UpdatedAt)
	}
}

func TestImport_AssignsIDWhenMissing(t *testing.T) {
	s := newTestStore(t, Options{})
	in := cv.Default()
	in.ID = ""
	doc, err := s.Import(context.Background(), in)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if doc.ID == "" {
		t.Fatal("id not assigned")
	}
}

// Backups

func TestBackupRetention(t *testing.T) {
	const maxBackups = 3
	const writes = maxBackups + 4

	clk := newFakeClock()
	pruned := 0
	s := newTestStore(t, Options{
		Now:        clk.Now,
		MaxBackups: maxBackups,
		OnPruned:   func(n int) { pruned += n },
	})
	ctx := context.Background()

	// cold store: the first write has nothing to back up
	for i := 1; i <= writes; i++ {
		clk.Advance(time.Second)
		if _, err := s.Update(ctx, setName(fmt.Sprintf("v%d", i))); err != nil {
			t.Fatalf("Update %d: %v", i, err)
		}
	}

	names, err := s.ListBackups(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != maxBackups {
		t.Fatalf("backups = %d, want %d", len(names), maxBackups)
	}
	// newest first: the snapshots taken before writes 7, 6 and 5
	for i, name := range names {
		want := fmt.Sprintf("v%d", writes-1-i)
		if got := readBackup(t, s, name).PersonalInfo.Name; got != want {
			t.Fatalf("backup[%d] name = %q, want %q", i, got, want)
		}
	}
	if want := writes - 1 - maxBackups; pruned != want {
		t.Fatalf("pruned = %d, want %d", pruned, want)
	}
}

func TestBackupNames_UniqueUnderFrozenClock(t *testing.T) {
	clk := newFakeClock()
	s := newTestStore(t, Options{Now: clk.Now, MaxBackups: 50})
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		if _, err := s.Update(ctx, setName(fmt.Sprint(i))); err != nil {
			t.Fatal(err)
		}
	}
	names, err := s.ListBackups(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 9 {
		t.Fatalf("backups = %d, want 9", len(names))
	}
	if !sort.IsSorted(sort.Reverse(sort.StringSlice(names))) {
		t.Fatalf("names not newest first: %v", names)
	}
	for i := 1; i < len(names); i++ {
		if names[i] == names[i-1] {
			t.Fatalf("duplicate backup name %s", names[i])
		}
	}
}

func TestBackupNames_ResumeAfterRestart(t *testing.T) {
	dir := t.TempDir()
	clk := newFakeClock()
	ctx := context.Background()

	s1 := newTestStore(t, Options{Dir: dir, Now: clk.Now})
	for i := 0; i < 3; i++ {
		if _, err := s1.Update(ctx, setName(fmt.Sprint(i))); err != nil {
			t.Fatal(err)
		}
	}
	before, _ := s1.ListBackups(ctx)

	// clock stepped backwards across the restart
	clk.Advance(-time.Hour)
	s2 := newTestStore(t, Options{Dir: dir, Now: clk.Now})
	if _, err := s2.Update(ctx, setName("after restart")); err != nil {
		t.Fatal(err)
	}
	after, _ := s2.ListBackups(ctx)
	if len(after) != len(before)+1 {
		t.Fatalf("backups = %d, want %d", len(after), len(before)+1)
	}
	if after[0] <= before[0] {
		t.Fatalf("new backup %s does not sort after %s", after[0], before[0])
	}
}

func TestListBackups_IgnoresForeignFiles(t *testing.T) {
	s := newTestStore(t, Options{})
	for _, name := range []string{"notes.txt", ".cv_content_backup_x.json.tmp-1", "cv_content_backup_bad.json"} {
		if err := os.WriteFile(filepath.Join(s.backupDir, name), []byte("{}"), 0o640); err != nil {
			t.Fatal(err)
		}
	}
	names, err := s.ListBackups(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 0 {
		t.Fatalf("ListBackups = %v, want none", names)
	}
}

func TestParseBackupName(t *testing.T) {
	tests := []struct {
		name string
		want time.Time
		ok   bool
	}{
		{"cv_content_backup_20260301_120000.000000001.json", time.Date(2026, 3, 1, 12, 0, 0, 1, time.UTC), true},
		{"cv_content_backup_20240101_120000.json", time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC), true},
		{"cv_content_backup_20240101_120000.5.json", time.Time{}, false},
		{"cv_content_backup_20241301_120000.json", time.Time{}, false},
		{"cv_content_backup_2024010_120000.json", time.Time{}, false},
		{"cv_content_backup_bad.json", time.Time{}, false},
		{"cv_content_backup_20240101_120000.txt", time.Time{}, false},
		{"cv_content_backup_/0240101_120000.json", time.Time{}, false},
	}
	for _, tt := range tests {
		got, ok := parseBackupName(tt.name)
		if ok != tt.ok || !got.Equal(tt.want) {
			t.Errorf("parseBackupName(%q) = %v, %v; want %v, %v", tt.name, got, ok, tt.want, tt.ok)
		}
	}
}

func writeSnapshot(t *testing.T, dir, name, person string) {
	t.Helper()
	doc := cv.Default()
	doc.PersonalInfo.Name = person
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, BackupDir, name), data, 0o640); err != nil {
		t.Fatal(err)
	}
}

// Data directories written by the earlier site use second-resolution names.
func TestLegacyBackups_ListedRestoredAndPruned(t *testing.T) {
	dir := t.TempDir()
	clk := newFakeClock()
	ctx := context.Background()

	if err := os.MkdirAll(filepath.Join(dir, BackupDir), 0o750); err != nil {
		t.Fatal(err)
	}
	live := cv.Default()
	live.PersonalInfo.Name = "current"
	data, err := encodeDocument(live)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, LiveFile), data, 0o640); err != nil {
		t.Fatal(err)
	}
	legacy := []string{
		"cv_content_backup_20240101_120000.json",
		"cv_content_backup_20240102_080000.json",
		"cv_content_backup_20240103_093000.json",
	}
	for i, name := range legacy {
		writeSnapshot(t, dir, name, fmt.Sprintf("legacy-%d", i))
	}

	s := newTestStore(t, Options{Dir: dir, Now: clk.Now, MaxBackups: 3})
	names, err := s.ListBackups(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{legacy[2], legacy[1], legacy[0]}
	if !slices.Equal(names, want) {
		t.Fatalf("ListBackups = %v, want %v", names, want)
	}

	doc, err := s.RestoreBackup(ctx, legacy[1])
	if err != nil {
		t.Fatalf("RestoreBackup legacy: %v", err)
	}
	if doc.PersonalInfo.Name != "legacy-1" {
		t.Fatalf("restored name = %q", doc.PersonalInfo.Name)
	}

	// the pre-restore backup pushes the oldest legacy snapshot out
	names, err = s.ListBackups(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 3 || names[1] != legacy[2] || names[2] != legacy[1] {
		t.Fatalf("after restore = %v", names)
	}
	if got := readBackup(t, s, names[0]).PersonalInfo.Name; got != "current" {
		t.Fatalf("pre-restore backup holds %q", got)
	}
	if _, err := os.Stat(filepath.Join(dir, BackupDir, legacy[0])); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("oldest legacy backup not pruned: %v", err)
	}
}

func TestBackupNames_OrderedByTimeAcrossLayouts(t *testing.T) {
	s := newTestStore(t, Options{})
	// lexically the second name sorts first
	older := "cv_content_backup_20240101_120000.json"
	newer := "cv_content_backup_20240101_120000.500000000.json"
	writeSnapshot(t, filepath.Dir(s.backupDir), older, "older")
	writeSnapshot(t, filepath.Dir(s.backupDir), newer, "newer")

	names, err := s.ListBackups(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(names, []string{newer, older}) {
		t.Fatalf("ListBackups = %v", names)
	}
}

// Restore

func TestRestoreBackup_RoundTrip(t *testing.T) {
	clk := newFakeClock()
	s := newTestStore(t, Options{Now: clk.Now})
	ctx := context.Background()

	a, err := s.Update(ctx, cv.Patch{
		PersonalInfo: &cv.PersonalInfo{Name: "A"},
		Skills:       map[string][]string{"state": {"a"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	clk.Advance(time.Second)
	if _, err := s.Update(ctx, cv.Patch{
		PersonalInfo: &cv.PersonalInfo{Name: "B"},
		Skills:       map[string][]string{"state": {"b"}},
	}); err != nil {
		t.Fatal(err)
	}

	names, err := s.ListBackups(ctx)
	if err != nil || len(names) != 1 {
		t.Fatalf("ListBackups = %v, %v", names, err)
	}

	clk.Advance(time.Second)
	restored, err := s.RestoreBackup(ctx, names[0])
	if err != nil {
		t.Fatalf("RestoreBackup: %v", err)
	}

	want := a
	want.UpdatedAt = restored.UpdatedAt
	if !reflect.DeepEqual(restored, want) {
		t.Fatalf("restored = %+v\nwant %+v", restored, want)
	}
	if !restored.UpdatedAt.Equal(clk.Now()) {
		t.Fatal("restore did not stamp updatedAt")
	}

	// pre-restore state B is now the newest backup
	names, _ = s.ListBackups(ctx)
	if len(names) != 2 {
		t.Fatalf("backups = %d, want 2", len(names))
	}
	if got := readBackup(t, s, names[0]).PersonalInfo.Name; got != "B" {
		t.Fatalf("newest backup name = %q, want B", got)
	}
}

func TestRestoreBackup_NotFound(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()
	if _, err := s.Update(ctx, setName("live")); err != nil {
		t.Fatal(err)
	}
	before := readFile(t, s.livePath)

	tests := []string{
		"",
		"nope",
		"../cv_content.json",
		"cv_content_backup_../../x.json",
		"cv_content_backup_20260101_000000.000000000.json",
		backupPrefix + "20260101_000000.000000000" + backupSuffix + "/x",
	}
	for _, name := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := s.RestoreBackup(ctx, name)
			if !errors.Is(err, ErrNotFound) {
				t.Fatalf("err = %v, want ErrNotFound", err)
			}
			if !bytes.Equal(readFile(t, s.livePath), before) {
				t.Fatal("live file changed")
			}
		})
	}
}

func TestRestoreBackup_Corrupt(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()
	if _, err := s.Update(ctx, setName("live")); err != nil {
		t.Fatal(err)
	}
	before := readFile(t, s.livePath)

	name := backupName(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))
	if err := os.WriteFile(filepath.Join(s.backupDir, name), []byte("{broken"), 0o640); err != nil {
		t.Fatal(err)
	}

	_, err := s.RestoreBackup(ctx, name)
	if !errors.Is(err, ErrCorruptBackup) {
		t.Fatalf("err = %v, want ErrCorruptBackup", err)
	}
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound) {
		t.Fatalf("corrupt backup error has the wrong kind: %v", err)
	}
	if !bytes.Equal(readFile(t, s.livePath), before) {
		t.Fatal("live file changed after corrupt restore")
	}
}

// Clear

func TestClear_ReseedsAndKeepsBackup(t *testing.T) {
	s := newTestStore(t, Options{})
	ctx := context.Background()
	if _, err := s.Update(ctx, setName("to be cleared")); err != nil {
		t.Fatal(err)
	}

	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	doc, err := s.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if doc.PersonalInfo.Name != cv.Default().PersonalInfo.Name {
		t.Fatalf("name = %q, want default", doc.PersonalInfo.Name)
	}
	names, _ := s.ListBackups(ctx)
	if len(names) == 0 {
		t.Fatal("no backup of the cleared document")
	}
	if got := readBackup(t, s, names[0]).PersonalInfo.Name; got != "to be cleared" {
		t.Fatalf("newest backup name = %q", got)
	}
}

// Status

func TestStatus(t *testing.T) {
	clk := newFakeClock()
	s := newTestStore(t, Options{Now: clk.Now})
	ctx := context.Background()

	st, err := s.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Initialized {
		t.Fatal("fresh store reported initialized")
	}
	if _, err := os.Stat(s.livePath); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("Status seeded the store")
	}

	doc, err := s.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	clk.Advance(time.Second)
	if _, err := s.Update(ctx, setName("x")); err != nil {
		t.Fatal(err)
	}

	st, err = s.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !st.Initialized {
		t.Fatal("Initialized = false after writes")
	}
	if st.Counts != doc.Counts() {
		t.Fatalf("Counts = %+v, want %+v", st.Counts, doc.Counts())
	}
	if !st.UpdatedAt.Equal(clk.Now()) {
		t.Fatalf("UpdatedAt = %v, want %v", st.UpdatedAt, clk.Now())
	}
	if st.Backups != 1 {
		t.Fatalf("Backups = %d, want 1", st.Backups)
	}
}

// Concurrency

func TestConcurrentDisjointUpdates(t *testing.T) {
	s := newTestStore(t, Options{MaxBackups: 100})
	ctx := context.Background()
	if _, err := s.Load(ctx); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if _, err := s.Update(ctx, setName("from A")); err != nil {
			t.Errorf("Update A: %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		if _, err := s.Update(ctx, cv.Patch{AboutDescription: map[string]string{"en": "from B"}}); err != nil {
			t.Errorf("Update B: %v", err)
		}
	}()
	wg.Wait()

	doc, err := s.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if doc.PersonalInfo.Name != "from A" {
		t.Fatalf("lost update A: name = %q", doc.PersonalInfo.Name)
	}
	if doc.AboutDescription["en"] != "from B" {
		t.Fatalf("lost update B: about = %v", doc.AboutDescription)
	}
}

func TestConcurrentMutateNoLostUpdates(t *testing.T) {
	s := newTestStore(t, Options{MaxBackups: 100})
	ctx := context.Background()
	if _, err := s.Update(ctx, cv.Patch{Experiences: []cv.Experience{}}); err != nil {
		t.Fatal(err)
	}

	const n = 25
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Mutate(ctx, func(d *cv.Document) error {
				d.Experiences = append(d.Experiences, cv.Experience{ID: fmt.Sprint(i)})
				return nil
			})
			if err != nil {
				t.Errorf("Mutate %d: %v", i, err)
			}
		}(i)
	}

	// readers run alongside and must always parse a whole document
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Load(ctx); err != nil {
				t.Errorf("Load: %v", err)
			}
		}()
	}
	wg.Wait()

	doc, err := s.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(doc.Experiences) != n {
		t.Fatalf("experiences = %d, want %d", len(doc.Experiences), n)
	}
}

// Mirror

type recordingMirror struct {
	mu    sync.Mutex
	names []string
	data  map[string][]byte
	err   error
}

func (m *recordingMirror) PutBackup(_ context.Context, name string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.data == nil {
		m.data = map[string][]byte{}
	}
	m.names = append(m.names, name)
	m.data[name] = append([]byte(nil), data...)
	return nil
}

func TestMirror_ReceivesEachBackup(t *testing.T) {
	m := &recordingMirror{}
	s := newTestStore(t, Options{Mirror: m})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := s.Update(ctx, setName(fmt.Sprint(i))); err != nil {
			t.Fatal(err)
		}
	}
	names, _ := s.ListBackups(ctx)
	if len(m.names) != len(names) {
		t.Fatalf("mirrored %d backups, store has %d", len(m.names), len(names))
	}
	for _, name := range names {
		got, ok := m.data[name]
		if !ok {
			t.Fatalf("backup %s not mirrored", name)
		}
		if !bytes.Equal(got, readFile(t, filepath.Join(s.backupDir, name))) {
			t.Fatalf("mirrored bytes for %s differ", name)
		}
	}
}

func TestMirror_FailureDoesNotFailWrite(t *testing.T) {
	failures := 0
	m := &recordingMirror{err: errors.New("bucket unavailable")}
	s := newTestStore(t, Options{Mirror: m, OnMirrorFailed: func() { failures++ }})
	ctx := context.Background()

	if _, err := s.Update(ctx, setName("one")); err != nil {
		t.Fatal(err)
	}
	doc, err := s.Update(ctx, setName("two"))
	if err != nil {
		t.Fatalf("Update with failing mirror: %v", err)
	}
	if doc.PersonalInfo.Name != "two" {
		t.Fatal("write not applied")
	}
	if failures != 1 {
		t.Fatalf("OnMirrorFailed called %d times, want 1", failures)
	}
}

// Hooks

func TestHooks_OnWriteOps(t *testing.T) {
	var ops []string
	s := newTestStore(t, Options{OnWrite: func(op string) { ops = append(ops, op) }})
	ctx := context.Background()

	if _, err := s.Load(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Update(ctx, setName("x")); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Import(ctx, cv.Default()); err != nil {
		t.Fatal(err)
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	want := []string{"reseed", "update", "import", "clear"}
	if !reflect.DeepEqual(ops, want) {
		t.Fatalf("ops = %v, want %v", ops, want)
	}
}

// End to end

func TestScenario_UpdateNameKeepsPriorInBackup(t *testing.T) {
	clk := newFakeClock()
	s := newTestStore(t, Options{Now: clk.Now})
	ctx := context.Background()

	initial, err := s.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	clk.Advance(time.Minute)
	if _, err := s.Update(ctx, setName("A")); err != nil {
		t.Fatal(err)
	}

	loaded, err := s.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.PersonalInfo.Name != "A" {
		t.Fatalf("name = %q, want A", loaded.PersonalInfo.Name)
	}
	want := initial
	want.PersonalInfo = loaded.PersonalInfo
	want.UpdatedAt = loaded.UpdatedAt
	if !reflect.DeepEqual(loaded, want) {
		t.Fatal("fields other than personalInfo changed")
	}

	names, err := s.ListBackups(ctx)
	if err != nil || len(names) != 1 {
		t.Fatalf("ListBackups = %v, %v", names, err)
	}
	if got := readBackup(t, s, names[0]).PersonalInfo.Name; got != initial.PersonalInfo.Name {
		t.Fatalf("backup name = %q, want %q", got, initial.PersonalInfo.Name)
	}
}
