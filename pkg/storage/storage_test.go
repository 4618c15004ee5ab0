package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// 读取对象内容辅助函数
func readObject(t *testing.T, s Storage, key string) string {
	t.Helper()
	reader, err := s.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("Failed to get object %s: %v", key, err)
	}
	defer reader.Close()
	b, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("Failed to read object %s: %v", key, err)
	}
	return string(b)
}

// testStorage 各存储实现共用的行为测试
func testStorage(t *testing.T, s Storage, prefix string) {
	ctx := context.Background()
	key := prefix + "abc123def456/chunks.json"
	content := `[{"id":0,"text":"这是测试分块"}]`

	t.Run("Put", func(t *testing.T) {
		if err := s.Put(ctx, key, strings.NewReader(content), int64(len(content))); err != nil {
			t.Fatalf("Failed to put object: %v", err)
		}
	})

	t.Run("Get", func(t *testing.T) {
		if got := readObject(t, s, key); got != content {
			t.Errorf("Object content mismatch, expected: %s, got: %s", content, got)
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		updated := `[]`
		if err := s.Put(ctx, key, strings.NewReader(updated), int64(len(updated))); err != nil {
			t.Fatalf("Failed to overwrite object: %v", err)
		}
		if got := readObject(t, s, key); got != updated {
			t.Errorf("Overwritten content mismatch, got: %s", got)
		}
	})

	t.Run("List", func(t *testing.T) {
		other := prefix + "ffffffffffff/document.json"
		if err := s.Put(ctx, other, strings.NewReader("{}"), 2); err != nil {
			t.Fatalf("Failed to put object: %v", err)
		}

		objects, err := s.List(ctx, prefix+"abc123def456/")
		if err != nil {
			t.Fatalf("Failed to list objects: %v", err)
		}
		if len(objects) != 1 || objects[0].Key != key {
			t.Errorf("Expected only %s under prefix, got %+v", key, objects)
		}

		all, err := s.List(ctx, prefix)
		if err != nil {
			t.Fatalf("Failed to list objects: %v", err)
		}
		if len(all) != 2 {
			t.Errorf("Expected 2 objects, got %d", len(all))
		}
	})

	t.Run("Exists", func(t *testing.T) {
		exists, err := s.Exists(ctx, key)
		if err != nil {
			t.Fatalf("Failed to check object existence: %v", err)
		}
		if !exists {
			t.Error("Object should exist, but does not")
		}

		exists, err = s.Exists(ctx, prefix+"missing/object")
		if err != nil {
			t.Fatalf("Failed to check missing object: %v", err)
		}
		if exists {
			t.Error("Missing object should return false, but got true")
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, err := s.Get(ctx, prefix+"missing/object")
		if !errors.Is(err, ErrObjectNotFound) {
			t.Errorf("Expected ErrObjectNotFound, got %v", err)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := s.Delete(ctx, key); err != nil {
			t.Fatalf("Failed to delete object: %v", err)
		}
		exists, _ := s.Exists(ctx, key)
		if exists {
			t.Error("Object should have been deleted, but still exists")
		}

		// 重复删除不报错
		if err := s.Delete(ctx, key); err != nil {
			t.Errorf("Deleting a missing object should succeed, got %v", err)
		}
		s.Delete(ctx, prefix+"ffffffffffff/document.json")
	})

	t.Run("InvalidKey", func(t *testing.T) {
		for _, bad := range []string{"", "/abs/key", "../escape", "a/../../b"} {
			err := s.Put(ctx, bad, strings.NewReader("x"), 1)
			if !errors.Is(err, ErrInvalidKey) {
				t.Errorf("Key %q should be rejected, got %v", bad, err)
			}
		}
	})
}

// TestLocalStorage 测试本地存储实现
func TestLocalStorage(t *testing.T) {
	tempDir := t.TempDir()

	localStorage, err := NewLocalStorage(LocalConfig{Path: tempDir})
	if err != nil {
		t.Fatalf("Failed to create local storage instance: %v", err)
	}

	testStorage(t, localStorage, "")

	// 不应残留临时文件
	err = filepath.Walk(tempDir, func(path string, info os.FileInfo, err error) error {
		if err == nil && strings.Contains(info.Name(), ".tmp-") {
			t.Errorf("Temporary file left behind: %s", path)
		}
		return err
	})
	if err != nil {
		t.Fatalf("Failed to walk storage directory: %v", err)
	}
}

// TestMinioStorage 测试MinIO存储实现
// 需要设置 MINIO_TEST_ENDPOINT 并启动MinIO服务
func TestMinioStorage(t *testing.T) {
	endpoint := os.Getenv("MINIO_TEST_ENDPOINT")
	if endpoint == "" {
		t.Skip("MINIO_TEST_ENDPOINT not set, skipping MinIO tests")
	}

	cfg := MinioConfig{
		Endpoint:  endpoint,
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
		UseSSL:    false,
		Bucket:    "docindex-test",
	}

	minioStorage, err := NewMinioStorage(cfg)
	if err != nil {
		t.Fatalf("Failed to create MinIO storage: %v", err)
	}

	testStorage(t, minioStorage, "storage-test/")
}

// TestStorageFactory 测试存储工厂函数
func TestStorageFactory(t *testing.T) {
	t.Run("None", func(t *testing.T) {
		s, err := New(Config{Type: "none"})
		if err != nil || s != nil {
			t.Errorf("Expected nil storage for type none, got %v, %v", s, err)
		}
	})

	t.Run("Local", func(t *testing.T) {
		tempDir := filepath.Join(t.TempDir(), "nested", "mirror")
		s, err := New(Config{Type: "local", Local: LocalConfig{Path: tempDir}})
		if err != nil {
			t.Fatalf("Failed to create local storage: %v", err)
		}
		if s == nil {
			t.Fatal("Created storage instance should not be nil")
		}
		if _, err := os.Stat(tempDir); os.IsNotExist(err) {
			t.Errorf("Storage path was not created: %s", tempDir)
		}
	})

	t.Run("Unsupported", func(t *testing.T) {
		if _, err := New(Config{Type: "ftp"}); err == nil {
			t.Error("Unsupported storage type should fail")
		}
	})
}
