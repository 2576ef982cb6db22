package video

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/yourusername/file-forge/internal/workspace"
)

const manifestFilename = "manifest.json"

// Operation は動画処理の種別です。
type Operation string

const (
	OperationTranscode    Operation = "transcode"
	OperationExtractAudio Operation = "extract-audio"
)

var operationOutput = map[Operation]struct {
	stored      string
	prefix      string
	ext         string
	contentType string
}{
	OperationTranscode:    {stored: "output.mp4", prefix: "processed", ext: ".mp4", contentType: "video/mp4"},
	OperationExtractAudio: {stored: "output.mp3", prefix: "audio", ext: ".mp3", contentType: "audio/mpeg"},
}

// downloadName は成果物のダウンロード名（processed_<ミリ秒>.mp4 など）を返します。
func downloadName(op Operation, at time.Time) string {
	out := operationOutput[op]
	return fmt.Sprintf("%s_%d%s", out.prefix, at.UnixMilli(), out.ext)
}

// JobManifest は非同期ジョブの実行に必要な情報を保持します。
type JobManifest struct {
	JobID     string    `json:"jobId"`
	Operation Operation `json:"operation"`
	Input     JobFile   `json:"input"`
	Options   Options   `json:"options"`
	CreatedAt time.Time `json:"createdAt"`
}

// JobFile はジョブ入力ファイルのメタデータです。
type JobFile struct {
	StoredName   string `json:"storedName"`
	OriginalName string `json:"originalName"`
	Size         int64  `json:"size"`
}

func writeManifest(ws *workspace.Workspace, manifest *JobManifest) error {
	if manifest == nil {
		return fmt.Errorf("manifest is nil")
	}
	path, err := ws.Path(manifestFilename)
	if err != nil {
		return err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("failed to open manifest: %w", err)
	}
	defer file.Close()
	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	return enc.Encode(manifest)
}

func loadManifest(dir string) (*JobManifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestFilename))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var manifest JobManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return &manifest, nil
}
