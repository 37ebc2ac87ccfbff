package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	"hexmarket.gg/internal/persistence/archive"
	"hexmarket.gg/internal/persistence/journal"
)

func main() {
	var (
		archPath  = flag.String("archive", "", "path to room.arch.zst")
		eventsDir = flag.String("events", "", "events dir containing events-*.jsonl.zst (optional)")
		asJSON    = flag.Bool("json", false, "print the full archive as JSON")
	)
	flag.Parse()

	if *archPath == "" {
		fmt.Fprintln(os.Stderr, "missing -archive")
		os.Exit(2)
	}

	arch, err := archive.ReadArchive(*archPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read archive:", err)
		os.Exit(1)
	}

	fmt.Printf("archive v%d room=%s rounds=%d seed=%d radius=%d players=%d cells=%d paths=%d winner=%s\n",
		arch.Header.Version, arch.Header.RoomID, arch.RoundCount, arch.Seed, arch.Radius,
		len(arch.Players), len(arch.Cells), len(arch.Paths), orDash(arch.WinnerID))

	if *asJSON {
		b, err := json.MarshalIndent(arch, "", "  ")
		if err != nil {
			fmt.Fprintln(os.Stderr, "marshal:", err)
			os.Exit(1)
		}
		_, _ = os.Stdout.Write(b)
		fmt.Println()
	} else {
		for _, p := range arch.Players {
			marker := " "
			if p.ID == arch.WinnerID {
				marker = "*"
			}
			fmt.Printf("%s %-20s money=%-4d cells=%-3d dice=%v\n", marker, p.Name, p.Money, p.CellsOwned, p.Dice)
		}
	}

	if *eventsDir == "" {
		return
	}

	files, err := listEventFiles(*eventsDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list events:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no events files found in", *eventsDir)
		os.Exit(1)
	}

	counts := make(map[string]int)
	var total int
	var firstTS, lastTS string
	for _, path := range files {
		if err := scanEventsFile(path, counts, &total, &firstTS, &lastTS); err != nil {
			fmt.Fprintln(os.Stderr, "events:", err)
			os.Exit(1)
		}
	}

	fmt.Printf("events: %d lines across %d files (%s .. %s)\n", total, len(files), firstTS, lastTS)
	types := make([]string, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		fmt.Printf("  %-18s %d\n", t, counts[t])
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func listEventFiles(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "events-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}

func scanEventsFile(path string, counts map[string]int, total *int, firstTS, lastTS *string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)

	for sc.Scan() {
		var ev journal.Event
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			return fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
		}
		counts[ev.Type]++
		*total++
		if *firstTS == "" {
			*firstTS = ev.TS
		}
		*lastTS = ev.TS
	}
	return sc.Err()
}
