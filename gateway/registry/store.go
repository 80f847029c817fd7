package registry

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/go-faster/errors"

	"auction-onchain/model"
)

const (
	defaultLockTimeout = 3 * time.Second
	lockRetryInterval  = 20 * time.Millisecond
)

// registeredUsersKey は登録ユーザー一覧を保存するキー (一覧全体を 1 つの JSON として保存)
var registeredUsersKey = []byte("registeredUsers")

// RegistryStore は登録ユーザー一覧の永続化を担当
type RegistryStore interface {
	// Load は保存済みの一覧を登録順で返す。未保存なら空
	Load() ([]model.RegisteredUser, error)

	// Update は読み込み・fn の適用・保存を 1 回のロック内で行い、保存した一覧を返す。
	// fn がエラーを返した場合は何も書き込まない
	Update(fn func(users []model.RegisteredUser) ([]model.RegisteredUser, error)) ([]model.RegisteredUser, error)
}

type StoreOption func(s *PebbleStore)

// WithLockTimeout は他プロセスがディレクトリをロックしているときの待ち時間
func WithLockTimeout(d time.Duration) StoreOption {
	return func(s *PebbleStore) {
		s.lockTimeout = d
	}
}

// PebbleStore は操作ごとに PebbleDB を開いて閉じる。
// ディレクトリのロックは操作中しか保持しないので、HTTP サーバーと CLI が同じディレクトリを共有できる。
type PebbleStore struct {
	dir         string
	fs          vfs.FS
	lockTimeout time.Duration

	mu sync.Mutex
}

// NewPebbleStore は dir を PebbleDB の保存先にする
func NewPebbleStore(dir string, opts ...StoreOption) (*PebbleStore, error) {
	return newStore(vfs.Default, dir, opts)
}

// NewMemStore はメモリ上の PebbleDB を使う (テスト・一時利用向け)
func NewMemStore(opts ...StoreOption) (*PebbleStore, error) {
	return newStore(vfs.NewMem(), "registry", opts)
}

func newStore(fs vfs.FS, dir string, opts []StoreOption) (*PebbleStore, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create registry dir %s", dir)
	}
	s := &PebbleStore{dir: dir, fs: fs, lockTimeout: defaultLockTimeout}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *PebbleStore) Load() ([]model.RegisteredUser, error) {
	var users []model.RegisteredUser
	err := s.withDB(func(db *pebble.DB) error {
		var err error
		users, err = readUsers(db)
		return err
	})
	if err != nil {
		return nil, err
	}
	return users, nil
}

func (s *PebbleStore) Update(fn func(users []model.RegisteredUser) ([]model.RegisteredUser, error)) ([]model.RegisteredUser, error) {
	var next []model.RegisteredUser
	err := s.withDB(func(db *pebble.DB) error {
		users, err := readUsers(db)
		if err != nil {
			return err
		}
		next, err = fn(users)
		if err != nil {
			return err
		}
		if next == nil {
			next = []model.RegisteredUser{}
		}
		data, err := json.Marshal(next)
		if err != nil {
			return errors.Wrap(err, "encode registered users")
		}
		if err := db.Set(registeredUsersKey, data, pebble.Sync); err != nil {
			return errors.Wrap(err, "write registered users")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return next, nil
}

// withDB はディレクトリをロックして DB を開き、fn の後に閉じる。
// ロック中なら lockTimeout まで待つ
func (s *PebbleStore) withDB(fn func(db *pebble.DB) error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, err := s.lock()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := lock.Close(); cerr != nil && err == nil {
			err = errors.Wrap(cerr, "unlock registry store")
		}
	}()

	db, err := pebble.Open(s.dir, &pebble.Options{FS: s.fs, Lock: lock})
	if err != nil {
		return errors.Wrapf(err, "open registry store at %s", s.dir)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil && err == nil {
			err = errors.Wrap(cerr, "close registry store")
		}
	}()

	return fn(db)
}

func (s *PebbleStore) lock() (*pebble.Lock, error) {
	deadline := time.Now().Add(s.lockTimeout)
	for {
		lock, err := pebble.LockDirectory(s.dir, s.fs)
		if err == nil {
			return lock, nil
		}
		if !time.Now().Before(deadline) {
			return nil, errors.Wrapf(model.ErrRegistryLocked, "%s (%v)", s.dir, err)
		}
		time.Sleep(lockRetryInterval)
	}
}

func readUsers(db *pebble.DB) ([]model.RegisteredUser, error) {
	value, closer, err := db.Get(registeredUsersKey)
	if errors.Is(err, pebble.ErrNotFound) {
		return []model.RegisteredUser{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read registered users")
	}
	defer closer.Close()

	var users []model.RegisteredUser
	if err := json.Unmarshal(value, &users); err != nil {
		return nil, errors.Wrap(err, "decode registered users")
	}
	return users, nil
}
