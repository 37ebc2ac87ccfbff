package archive

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
)

// ArchiveFileName is the fixed name of the archive blob inside a room's
// archive directory. The meta.json sidecar next to it carries the summary.
const ArchiveFileName = "room.arch.zst"

type Header struct {
	Version int    `json:"version"`
	RoomID  string `json:"room_id"`
	Rounds  int    `json:"rounds"`
}

// RoomArchiveV1 is the full final state of a finished game, written once at
// teardown. The types are self-contained so old archives stay readable as the
// live game types evolve.
type RoomArchiveV1 struct {
	Header Header `json:"header"`

	Seed       int64  `json:"seed"`
	RoundCount int    `json:"round_count"`
	Radius     int    `json:"radius"`
	CreatedAt  string `json:"created_at"`
	EndedAt    string `json:"ended_at"`

	Players  []PlayerV1 `json:"players"`
	Cells    []CellV1   `json:"cells"`
	Paths    []PathV1   `json:"paths,omitempty"`
	WinnerID string     `json:"winner_id,omitempty"`
}

type PlayerV1 struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Color      string `json:"color"`
	Money      int    `json:"money"`
	Dice       []int  `json:"dice"`
	CellsOwned int    `json:"cells_owned"`
}

type CellV1 struct {
	ID        string    `json:"id"`
	Q         int       `json:"q"`
	R         int       `json:"r"`
	DiceValue int       `json:"dice_value"`
	Producer  int       `json:"producer"`
	Seller    int       `json:"seller"`
	Blocked   bool      `json:"blocked,omitempty"`
	Owners    []OwnerV1 `json:"owners,omitempty"`
}

type OwnerV1 struct {
	PlayerID string `json:"player_id"`
	Role     string `json:"role"`
	Price    int    `json:"price"`
	Round    int    `json:"round"`
}

// PathV1 records a final-round delivery route. Earlier rounds' paths are
// cleared at round_end and live only in the event journal.
type PathV1 struct {
	PlayerID   string   `json:"player_id"`
	ProducerID string   `json:"producer_id"`
	SellerID   string   `json:"seller_id"`
	Cells      [][2]int `json:"cells"`
	Revenue    int      `json:"revenue"`
	Round      int      `json:"round"`
}

type RoomArchiveMeta struct {
	RoomID    string `json:"room_id"`
	Rounds    int    `json:"rounds"`
	Players   int    `json:"players"`
	WinnerID  string `json:"winner_id,omitempty"`
	Archive   string `json:"archive"`
	CreatedAt string `json:"created_at"`
}

func WriteArchive(path string, arch RoomArchiveV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	defer enc.Close()

	bw := bufio.NewWriterSize(enc, 256*1024)
	defer bw.Flush()

	hb, _ := json.Marshal(arch.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}

	if err := gob.NewEncoder(bw).Encode(&arch); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	return nil
}

func ReadArchive(path string) (RoomArchiveV1, error) {
	var arch RoomArchiveV1
	f, err := os.Open(path)
	if err != nil {
		return arch, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return arch, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// Read header line (ignore it for now, gob also contains header).
	_, _ = br.ReadBytes('\n')

	if err := gob.NewDecoder(br).Decode(&arch); err != nil {
		return arch, fmt.Errorf("gob decode: %w", err)
	}
	return arch, nil
}

// ArchiveRoom writes a finished room's archive into `dataDir/archives/<roomID>/`
// with a meta.json sidecar, and returns the archive path.
func ArchiveRoom(dataDir string, arch RoomArchiveV1) (string, error) {
	if arch.Header.RoomID == "" {
		return "", fmt.Errorf("archive: empty room id")
	}
	dir := filepath.Join(dataDir, "archives", arch.Header.RoomID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	path := filepath.Join(dir, ArchiveFileName)
	if err := WriteArchive(path, arch); err != nil {
		return "", err
	}

	meta := RoomArchiveMeta{
		RoomID:    arch.Header.RoomID,
		Rounds:    arch.Header.Rounds,
		Players:   len(arch.Players),
		WinnerID:  arch.WinnerID,
		Archive:   ArchiveFileName,
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if b, err := json.MarshalIndent(meta, "", "  "); err == nil {
		_ = os.WriteFile(filepath.Join(dir, "meta.json"), b, 0o644)
	}

	return path, nil
}
