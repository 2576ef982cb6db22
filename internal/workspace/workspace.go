// Package workspace はリクエスト単位の一時ファイル管理（受け取り・成果物返却・削除）を提供します。
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var idPattern = regexp.MustCompile(`^[0-9]+-[0-9a-f]{8}$`)

// ワークスペース内の状態ファイル。Sweep はこれを見て削除可否と経過時間を判断します。
const (
	handOffMarker = ".handoff"
	doneMarker    = ".done"
)

// DefaultStaleAfter は状態ファイルの無いワークスペースや未完了ジョブを放置とみなすまでの時間です。
const DefaultStaleAfter = 24 * time.Hour

// Manager は一時ディレクトリ配下にワークスペースを払い出します。
type Manager struct {
	root   string
	logger zerolog.Logger
	now    func() time.Time

	// StaleAfter を過ぎた未完了のワークスペースはプロセス異常終了の残骸として削除します。
	StaleAfter time.Duration
}

// NewManager は root を作成して Manager を返します。
func NewManager(root string, logger zerolog.Logger) (*Manager, error) {
	if root == "" {
		return nil, errors.New("workspace root is empty")
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("一時ディレクトリの作成に失敗しました: %w", err)
	}
	return &Manager{
		root:   root,
		logger:     logger.With().Str("component", "workspace").Logger(),
		now:        time.Now,
		StaleAfter: DefaultStaleAfter,
	}, nil
}

// Root は一時ディレクトリのパスを返します。
func (m *Manager) Root() string { return m.root }

// New は新しいワークスペースを作成します。ディレクトリは最初のファイル作成時に作られます。
// 名前は高分解能タイムスタンプと乱数で一意になります。
func (m *Manager) New() *Workspace {
	id := fmt.Sprintf("%d-%s", m.now().UnixNano(), uuid.NewString()[:8])
	return &Workspace{
		ID:      id,
		Dir:     filepath.Join(m.root, id),
		manager: m,
		logger:  m.logger.With().Str("workspace", id).Logger(),
	}
}

// Open は既存のワークスペースを開き直します（非同期ジョブ用）。
func (m *Manager) Open(id string) (*Workspace, error) {
	if !idPattern.MatchString(id) {
		return nil, fmt.Errorf("invalid workspace id %q", id)
	}
	dir := filepath.Join(m.root, id)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	ws := &Workspace{
		ID:      id,
		Dir:     dir,
		dirMade: true,
		manager: m,
		logger:  m.logger.With().Str("workspace", id).Logger(),
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		ws.paths = append(ws.paths, filepath.Join(dir, e.Name()))
	}
	return ws, nil
}

// Sweep は期限切れのワークスペースを削除し、削除した数を返します。
//
// 完了済みジョブの成果物（.done あり）は完了から maxAge で削除します。
// リクエスト処理中や実行待ちのワークスペースは StaleAfter を過ぎるまで残します。
func (m *Manager) Sweep(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return 0, err
	}
	now := m.now()
	removed := 0
	for _, e := range entries {
		if !e.IsDir() || !idPattern.MatchString(e.Name()) {
			continue
		}
		if !m.expired(e.Name(), now, maxAge) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(m.root, e.Name())); err != nil {
			m.logger.Warn().Err(err).Str("workspace", e.Name()).Msg("expired workspace could not be removed")
			continue
		}
		removed++
	}
	return removed, nil
}

func (m *Manager) expired(id string, now time.Time, maxAge time.Duration) bool {
	dir := filepath.Join(m.root, id)
	if doneAt, ok := readMarker(filepath.Join(dir, doneMarker)); ok {
		return now.Sub(doneAt) >= maxAge
	}
	since, ok := readMarker(filepath.Join(dir, handOffMarker))
	if !ok {
		created, err := strconv.ParseInt(id[:strings.IndexByte(id, '-')], 10, 64)
		if err != nil {
			return false
		}
		since = time.Unix(0, created)
	}
	return m.StaleAfter > 0 && now.Sub(since) >= m.StaleAfter
}

func readMarker(path string) (time.Time, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return time.Time{}, false
	}
	nanos, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(0, nanos), true
}

// Workspace は1リクエストが作成した一時ファイル群（TempFileSet）を所有します。
// Cleanup は成功・失敗どちらの場合も1度だけ全ファイルを削除します。
type Workspace struct {
	ID  string
	Dir string

	mu        sync.Mutex
	paths     []string
	dirMade   bool
	handedOff bool

	cleanupOnce sync.Once
	manager     *Manager
	logger      zerolog.Logger
}

// Path はワークスペース内のファイルパスを予約し、削除対象として登録します。
func (w *Workspace) Path(name string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.dirMade {
		if err := os.MkdirAll(w.Dir, 0o750); err != nil {
			return "", fmt.Errorf("ワークスペースの作成に失敗しました: %w", err)
		}
		w.dirMade = true
	}
	p := filepath.Join(w.Dir, filepath.Base(name))
	w.paths = append(w.paths, p)
	return p, nil
}

// Files は登録済みのパスを作成順で返します。
func (w *Workspace) Files() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.paths...)
}

// HandOff は所有権を非同期ジョブへ移します。以後 Cleanup は何もしません。
// 引き渡し時刻を記録し、Sweep はジョブ完了までこのワークスペースを削除しません。
func (w *Workspace) HandOff() error {
	if err := w.writeMarker(handOffMarker); err != nil {
		return err
	}
	w.mu.Lock()
	w.handedOff = true
	w.mu.Unlock()
	return nil
}

// MarkDone はジョブの完了時刻を記録します。成果物の保持期間はここから数えます。
func (w *Workspace) MarkDone() error {
	return w.writeMarker(doneMarker)
}

func (w *Workspace) writeMarker(name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.dirMade {
		if err := os.MkdirAll(w.Dir, 0o750); err != nil {
			return fmt.Errorf("ワークスペースの作成に失敗しました: %w", err)
		}
		w.dirMade = true
	}
	now := time.Now()
	if w.manager != nil {
		now = w.manager.now()
	}
	stamp := strconv.FormatInt(now.UnixNano(), 10)
	if err := os.WriteFile(filepath.Join(w.Dir, name), []byte(stamp), 0o640); err != nil {
		return fmt.Errorf("状態ファイルの書き込みに失敗しました: %w", err)
	}
	return nil
}

// Cleanup は登録済みファイルとディレクトリを削除します。
// 削除エラーはログに残すだけで呼び出し元には返しません。
func (w *Workspace) Cleanup() {
	w.mu.Lock()
	if w.handedOff {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	w.cleanupOnce.Do(func() {
		w.mu.Lock()
		paths := append([]string(nil), w.paths...)
		dirMade := w.dirMade
		w.mu.Unlock()

		for _, p := range paths {
			if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
				w.logger.Warn().Err(err).Str("path", p).Msg("temp file could not be removed")
			}
		}
		if !dirMade {
			return
		}
		if err := os.RemoveAll(w.Dir); err != nil {
			w.logger.Warn().Err(err).Str("path", w.Dir).Msg("workspace directory could not be removed")
		}
	})
}
