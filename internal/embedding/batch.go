package embedding

import (
	"context"
	"fmt"
	"sync"

	"github.com/gammazero/workerpool"
)

// BatchProcessor 批处理器
// 将大量文本分批并行嵌入，结果按输入顺序返回
type BatchProcessor struct {
	client     Client // 嵌入客户端
	batchSize  int    // 每批处理的文本数量
	maxWorkers int    // 最大并行工作线程数
}

// NewBatchProcessor 创建新的批处理器
func NewBatchProcessor(client Client, batchSize int, maxWorkers int) *BatchProcessor {
	if batchSize <= 0 {
		batchSize = 16 // 默认批量大小
	}

	if maxWorkers <= 0 {
		maxWorkers = 4 // 默认工作线程数
	}

	return &BatchProcessor{
		client:     client,
		batchSize:  batchSize,
		maxWorkers: maxWorkers,
	}
}

// Process 处理一批文本，将它们分成多个小批次并行处理
// 任一批次失败则整体失败，不会返回部分结果
func (p *BatchProcessor) Process(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	batches := splitIntoBatches(texts, p.batchSize)

	// 取消子上下文，首个错误出现后其余批次尽快退出
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	wp := workerpool.New(p.maxWorkers)
	batchResults := make([][][]float32, len(batches))
	var processingErr error
	var errOnce sync.Once

	fail := func(err error) {
		errOnce.Do(func() {
			processingErr = err
			cancel()
		})
	}

	for i, batch := range batches {
		i, batch := i, batch // 捕获循环变量
		wp.Submit(func() {
			if err := ctx.Err(); err != nil {
				fail(err)
				return
			}

			vectors, err := p.client.EmbedBatch(ctx, batch)
			if err != nil {
				fail(fmt.Errorf("batch %d processing error: %w", i, err))
				return
			}
			if len(vectors) != len(batch) {
				fail(fmt.Errorf("batch %d returned %d vectors for %d texts", i, len(vectors), len(batch)))
				return
			}

			// 每个批次只写自己的槽位，无需加锁
			batchResults[i] = vectors
		})
	}

	// 等待所有任务完成
	wp.StopWait()

	if processingErr != nil {
		return nil, processingErr
	}

	// 按批次顺序合并结果
	allVectors := make([][]float32, 0, len(texts))
	for _, vectors := range batchResults {
		allVectors = append(allVectors, vectors...)
	}

	return allVectors, nil
}

// splitIntoBatches 将文本列表分割成多个批次
func splitIntoBatches(texts []string, batchSize int) [][]string {
	if batchSize <= 0 {
		batchSize = 1
	}

	batches := make([][]string, 0, (len(texts)+batchSize-1)/batchSize)

	for i := 0; i < len(texts); i += batchSize {
		end := i + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batches = append(batches, texts[i:end])
	}

	return batches
}
