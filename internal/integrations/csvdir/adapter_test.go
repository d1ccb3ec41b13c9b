package csvdir

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"drtdispatch/internal/integrations"
	"drtdispatch/internal/store"
)

func TestImportAll(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	write("city.csv", "from,to,time,distance\n0,1,5,4\n1,0,6,4\n0,1,7,4\n")
	write("rural.csv", "0,2,30,25\n")
	write("notes.txt", "ignored")

	src := New(dir)
	names, err := src.Datasets(context.Background())
	if err != nil || len(names) != 2 || names[0] != "city" || names[1] != "rural" {
		t.Fatalf("datasets: %v %v", names, err)
	}

	st := store.NewMemory()
	if err := integrations.ImportAll(context.Background(), src, st); err != nil {
		t.Fatal(err)
	}
	city, err := st.LoadMatrix(context.Background(), "city")
	if err != nil || len(city) != 2 {
		t.Fatalf("city: %+v %v", city, err)
	}
	if city[0].From != 0 || city[0].Time != 7 {
		t.Fatalf("later line must win: %+v", city[0])
	}
	if _, err := st.LoadMatrix(context.Background(), "rural"); err != nil {
		t.Fatalf("rural: %v", err)
	}
}

func TestFetchRejectsPaths(t *testing.T) {
	if _, err := New(t.TempDir()).Fetch(context.Background(), "../etc/passwd"); err == nil {
		t.Fatal("path traversal accepted")
	}
}
