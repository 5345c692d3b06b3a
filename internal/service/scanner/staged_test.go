package scanner

import (
	"context"
	"testing"
)

func TestService_QuickHashReadsOnlyCandidates(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.write(t, "unique", "x")
	env.write(t, "a", "aaaa-1111")
	env.write(t, "b", "bbbb-1111")
	c := env.write(t, "c", "cccc-same")
	d := env.write(t, "d", "cccc-same")

	s := env.service(&Config{Workers: 2, QuickHash: true, QuickHashBytes: 4})
	first, err := s.Scan(ctx, []string{env.root})
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}

	if len(first.Groups) != 1 || first.Groups[0].Paths[0] != c || first.Groups[0].Paths[1] != d {
		t.Fatalf("groups = %+v, want c and d", first.Groups)
	}
	if first.Record.FilesProcessed != 5 || first.Eliminated != 3 {
		t.Errorf("processed = %d, eliminated = %d", first.Record.FilesProcessed, first.Eliminated)
	}
	// Four prefixes and two whole files; the unique size is never opened
	stats := first.HashStats
	if stats.FilesOpened != 6 || stats.BytesRead != 4*4+2*9 {
		t.Errorf("first scan stats = %+v", stats)
	}

	second, err := s.Scan(ctx, []string{env.root})
	if err != nil {
		t.Fatalf("second Scan() error = %v", err)
	}
	if second.HashStats.FilesOpened != 0 || second.HashStats.QuickHits != 4 {
		t.Errorf("second scan stats = %+v, want no reads", second.HashStats)
	}
	if len(second.Groups) != 1 || second.Groups[0].Hash != first.Groups[0].Hash {
		t.Errorf("groups differ between scans: %+v vs %+v", first.Groups, second.Groups)
	}
}

func TestService_QuickHashAgreesWithDirect(t *testing.T) {
	tests := []struct {
		name  string
		files map[string]string
		want  int
	}{
		{"small files are hashed whole", map[string]string{"a": "one", "b": "one", "c": "two"}, 1},
		{"shared prefix different tail", map[string]string{"a": "prefix-A", "b": "prefix-B"}, 0},
		{"two groups of one size", map[string]string{"a": "xxxx-1", "b": "xxxx-1", "c": "yyyy-2", "d": "yyyy-2"}, 2},
		{"nothing shares a size", map[string]string{"a": "1", "b": "22", "c": "333"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			direct, staged := newTestEnv(t), newTestEnv(t)
			for name, content := range tt.files {
				direct.write(t, name, content)
				staged.write(t, name, content)
			}

			want, err := direct.service(nil).Scan(ctx, []string{direct.root})
			if err != nil {
				t.Fatalf("direct Scan() error = %v", err)
			}
			got, err := staged.service(&Config{QuickHash: true, QuickHashBytes: 4}).Scan(ctx, []string{staged.root})
			if err != nil {
				t.Fatalf("staged Scan() error = %v", err)
			}

			if len(got.Groups) != tt.want || len(want.Groups) != tt.want {
				t.Fatalf("groups = %d staged, %d direct, want %d", len(got.Groups), len(want.Groups), tt.want)
			}
			for i := range got.Groups {
				if got.Groups[i].Hash != want.Groups[i].Hash || len(got.Groups[i].Paths) != len(want.Groups[i].Paths) {
					t.Errorf("group %d = %+v, want %+v", i, got.Groups[i], want.Groups[i])
				}
			}
			if got.Record.FilesProcessed != want.Record.FilesProcessed {
				t.Errorf("processed = %d, want %d", got.Record.FilesProcessed, want.Record.FilesProcessed)
			}
		})
	}
}

func TestService_QuickHashComparesWithCachedFiles(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	c := env.write(t, "c", "cccc-same")
	env.write(t, "other", "zzzz-tail")

	// A direct scan caches full digests but no prefixes
	if _, err := env.service(nil).Scan(ctx, []string{env.root}); err != nil {
		t.Fatalf("direct Scan() error = %v", err)
	}
	d := env.write(t, "d", "cccc-same")

	res, err := env.service(&Config{QuickHash: true, QuickHashBytes: 4}).Scan(ctx, []string{env.root})
	if err != nil {
		t.Fatalf("staged Scan() error = %v", err)
	}
	if len(res.Groups) != 1 || res.Groups[0].Paths[0] != c || res.Groups[0].Paths[1] != d {
		t.Fatalf("groups = %+v, want the new copy grouped with the cached file", res.Groups)
	}
	// Three prefixes, then d whole
	if res.HashStats.CacheHits != 2 || res.HashStats.FilesOpened != 4 || res.Eliminated != 0 {
		t.Errorf("stats = %+v, eliminated = %d", res.HashStats, res.Eliminated)
	}
}
