package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"tunnel-keeper/internal/logger"
	"tunnel-keeper/internal/models"
)

/**
 * StateStore 隧道状态的持久化存储
 * @description
 * - Load在没有任何状态时返回 (nil, nil)
 * - Save总是整份覆盖
 */
type StateStore interface {
	Load(ctx context.Context) (*models.StateFile, error)
	Save(ctx context.Context, state *models.StateFile) error
}

// FileStateStore 以缩进JSON写本地文件，先写临时文件再rename
type FileStateStore struct {
	path string
}

func NewFileStateStore(path string) *FileStateStore {
	return &FileStateStore{path: path}
}

func (s *FileStateStore) Path() string {
	return s.path
}

func (s *FileStateStore) Load(ctx context.Context) (*models.StateFile, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read state file %s: %w", s.path, err)
	}
	var state models.StateFile
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse state file %s: %w", s.path, err)
	}
	if state.Tunnels == nil {
		state.Tunnels = make(map[string]models.StateEntry)
	}
	return &state, nil
}

func (s *FileStateStore) Save(ctx context.Context, state *models.StateFile) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

// ReadRaw 读取原始文件内容，调试接口原样展示
func (s *FileStateStore) ReadRaw() (interface{}, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	var content interface{}
	if err := json.Unmarshal(data, &content); err != nil {
		return string(data), nil
	}
	return content, nil
}

/**
 * MirroredStateStore 主存储加若干镜像
 * @description
 * - Save先写主存储，主存储失败直接返回错误；镜像失败只记录日志
 * - Load优先主存储，主存储没有状态时使用第一个有状态的镜像
 */
type MirroredStateStore struct {
	primary StateStore
	mirrors []StateStore
	log     logger.Logger
}

func NewMirroredStateStore(primary StateStore, log logger.Logger, mirrors ...StateStore) *MirroredStateStore {
	if log == nil {
		log = logger.Nop()
	}
	return &MirroredStateStore{primary: primary, mirrors: mirrors, log: log}
}

func (m *MirroredStateStore) Load(ctx context.Context) (*models.StateFile, error) {
	state, err := m.primary.Load(ctx)
	if err != nil {
		m.log.Warn("primary state store load failed, trying mirrors", logger.Err(err))
	}
	if state != nil {
		return state, nil
	}
	for _, mirror := range m.mirrors {
		st, merr := mirror.Load(ctx)
		if merr != nil {
			m.log.Warn("mirror state store load failed", logger.Err(merr))
			continue
		}
		if st != nil {
			return st, nil
		}
	}
	return nil, err
}

func (m *MirroredStateStore) Save(ctx context.Context, state *models.StateFile) error {
	if err := m.primary.Save(ctx, state); err != nil {
		return err
	}
	for _, mirror := range m.mirrors {
		if err := mirror.Save(ctx, state); err != nil {
			m.log.Warn("mirror state store save failed", logger.Err(err))
		}
	}
	return nil
}

// ReadRaw 透传到主存储
func (m *MirroredStateStore) ReadRaw() (interface{}, error) {
	if r, ok := m.primary.(rawReader); ok {
		return r.ReadRaw()
	}
	return nil, errors.New("primary store has no raw view")
}

func (m *MirroredStateStore) Path() string {
	if p, ok := m.primary.(interface{ Path() string }); ok {
		return p.Path()
	}
	return ""
}

type rawReader interface {
	ReadRaw() (interface{}, error)
}
