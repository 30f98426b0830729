package archive

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type fakeClient struct {
	mu      sync.Mutex
	objects map[string]string
	fail    map[string]bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{objects: make(map[string]string), fail: make(map[string]bool)}
}

func (f *fakeClient) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	key := aws.ToString(in.Key)
	if f.fail[key] {
		return nil, errors.New("access denied")
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Bucket)+"/"+key] = string(body)
	return &s3.PutObjectOutput{}, nil
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestArchive_UploadsFilesAndConsensus(t *testing.T) {
	dir := t.TempDir()
	logPath := writeFile(t, dir, "progress.log", "IQ-TREE output\n")
	treePath := writeFile(t, dir, "beetles.phy.treefile", "(A,(B,C));\n")

	client := newFakeClient()
	a := NewWithClient(client, "results", "/phylorun/")

	if err := a.Archive(context.Background(), "job1", []string{logPath, treePath}, "(A,(B,C));"); err != nil {
		t.Fatalf("Archive failed: %v", err)
	}

	want := map[string]string{
		"results/phylorun/job1/progress.log":         "IQ-TREE output\n",
		"results/phylorun/job1/beetles.phy.treefile": "(A,(B,C));\n",
		"results/phylorun/job1/consensus.nwk":        "(A,(B,C));\n",
	}
	if len(client.objects) != len(want) {
		t.Errorf("uploaded %d objects, want %d: %v", len(client.objects), len(want), client.objects)
	}
	for k, v := range want {
		if got := client.objects[k]; got != v {
			t.Errorf("object %s = %q, want %q", k, got, v)
		}
	}
}

func TestArchive_ReportsEveryFailure(t *testing.T) {
	dir := t.TempDir()
	logPath := writeFile(t, dir, "progress.log", "out")

	client := newFakeClient()
	client.fail["job2/consensus.nwk"] = true
	a := NewWithClient(client, "results", "")

	err := a.Archive(context.Background(), "job2", []string{filepath.Join(dir, "missing.tre"), logPath}, "(A,B);")
	if err == nil {
		t.Fatal("Archive() returned no error")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("error %v does not wrap ErrNotExist", err)
	}
	if !strings.Contains(err.Error(), "access denied") {
		t.Errorf("error %v lacks the upload failure", err)
	}
	if _, ok := client.objects["results/job2/progress.log"]; !ok {
		t.Error("progress.log was not uploaded after an earlier failure")
	}
}

func TestKey(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{"", "j/progress.log"},
		{"phylorun/", "phylorun/j/progress.log"},
		{"/a/b/", "a/b/j/progress.log"},
	}
	for _, tt := range tests {
		if got := NewWithClient(nil, "b", tt.prefix).Key("j", "progress.log"); got != tt.want {
			t.Errorf("Key() with prefix %q = %q, want %q", tt.prefix, got, tt.want)
		}
	}
}

func TestNew(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Error("New() without bucket returned no error")
	}

	t.Setenv("AWS_CONFIG_FILE", filepath.Join(t.TempDir(), "none"))
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", filepath.Join(t.TempDir(), "none"))
	a, err := New(context.Background(), Config{
		Bucket:          "results",
		Endpoint:        "http://localhost:9000",
		PathStyle:       true,
		Prefix:          "runs",
		AccessKeyID:     "minio",
		SecretAccessKey: "minio123",
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if a.bucket != "results" || a.prefix != "runs" {
		t.Errorf("archiver = %+v", a)
	}
}
