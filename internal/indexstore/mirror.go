package indexstore

import (
	"context"
	"errors"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/fyerfyer/doc-index/internal/models"
	"github.com/fyerfyer/doc-index/internal/vectordb"
	"github.com/fyerfyer/doc-index/pkg/storage"
	"github.com/sirupsen/logrus"
)

// objectKey 镜像中的对象键: <id>/<file>
func objectKey(id, file string) string {
	return path.Join(id, file)
}

// upload 将文档目录中的文件上传到镜像
func (s *Store) upload(ctx context.Context, id string) error {
	dir := s.documentDir(id)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return models.NewStorageError("mirror upload", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := s.uploadFile(ctx, filepath.Join(dir, entry.Name()), objectKey(id, entry.Name())); err != nil {
			return err
		}
	}

	s.logger.WithField("document_id", id).Debug("Document index mirrored")
	return nil
}

func (s *Store) uploadFile(ctx context.Context, localPath, key string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return models.NewStorageError("mirror upload", localPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return models.NewStorageError("mirror upload", localPath, err)
	}
	if err := s.mirror.Put(ctx, key, f, info.Size()); err != nil {
		return models.NewStorageError("mirror upload", key, err)
	}
	return nil
}

// hydrate 从镜像下载文档到本地
// 镜像中没有完整文件集合时返回 false
func (s *Store) hydrate(ctx context.Context, id string) (bool, error) {
	objects, err := s.mirror.List(ctx, id+"/")
	if err != nil {
		return false, models.NewStorageError("mirror list", id, err)
	}

	files := make(map[string]bool, len(objects))
	for _, obj := range objects {
		files[path.Base(obj.Key)] = true
	}

	hasIndex := false
	for _, t := range vectordb.IndexTypes() {
		if files[vectordb.FileName(t)] {
			hasIndex = true
			break
		}
	}
	if !hasIndex || !files[ChunksFile] {
		return false, nil
	}

	stage, err := s.newStaging(id, ".pull")
	if err != nil {
		return false, models.NewStorageError("mirror download", s.stagingRoot(), err)
	}
	defer os.RemoveAll(stage)

	for name := range files {
		if err := s.downloadFile(ctx, objectKey(id, name), filepath.Join(stage, name)); err != nil {
			if errors.Is(err, storage.ErrObjectNotFound) {
				// 下载过程中对象被删除
				return false, nil
			}
			return false, err
		}
	}
	if err := syncDir(stage); err != nil {
		return false, models.NewStorageError("mirror download", stage, err)
	}

	// 本地已被其他读者或写者填充时保留本地版本
	if s.Exists(id) {
		return true, nil
	}
	if err := os.Rename(stage, s.documentDir(id)); err != nil {
		if s.Exists(id) {
			return true, nil
		}
		return false, models.NewStorageError("mirror download", s.documentDir(id), err)
	}
	if err := syncDir(s.root); err != nil {
		s.logger.WithError(err).Warn("Failed to sync index root")
	}

	s.logger.WithFields(logrus.Fields{
		"document_id": id,
		"files":       len(files),
	}).Info("Document index hydrated from mirror")
	return true, nil
}

func (s *Store) downloadFile(ctx context.Context, key, localPath string) error {
	reader, err := s.mirror.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return err
		}
		return models.NewStorageError("mirror download", key, err)
	}
	defer reader.Close()

	f, err := os.Create(localPath)
	if err != nil {
		return models.NewStorageError("mirror download", localPath, err)
	}
	if _, err := io.Copy(f, reader); err != nil {
		f.Close()
		return models.NewStorageError("mirror download", key, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return models.NewStorageError("mirror download", localPath, err)
	}
	if err := f.Close(); err != nil {
		return models.NewStorageError("mirror download", localPath, err)
	}
	return nil
}

// deleteMirror 删除镜像中的文档对象
func (s *Store) deleteMirror(ctx context.Context, id string) (bool, error) {
	objects, err := s.mirror.List(ctx, id+"/")
	if err != nil {
		return false, models.NewStorageError("mirror list", id, err)
	}
	for _, obj := range objects {
		if err := s.mirror.Delete(ctx, obj.Key); err != nil {
			return false, models.NewStorageError("mirror delete", obj.Key, err)
		}
	}
	return len(objects) > 0, nil
}
