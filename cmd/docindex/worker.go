package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/fyerfyer/doc-index/internal/document"
	"github.com/fyerfyer/doc-index/pkg/taskqueue"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	enqueueFile string
	enqueueName string
	enqueueWait bool
	waitTimeout time.Duration
	enqueueIn   time.Duration
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Process queued index tasks",
	Long:  "Consume index build and delete tasks from the Redis queue until interrupted.",
	Args:  cobra.NoArgs,
	RunE:  runWorker,
}

var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Queue an index build for a text file",
	Args:  cobra.NoArgs,
	RunE:  runEnqueue,
}

var enqueueDeleteCmd = &cobra.Command{
	Use:   "enqueue-delete <document-id>",
	Short: "Queue the deletion of a document's index",
	Args:  cobra.ExactArgs(1),
	RunE:  runEnqueueDelete,
}

var tasksCmd = &cobra.Command{
	Use:   "tasks <document-id>",
	Short: "Show queued tasks for a document",
	Args:  cobra.ExactArgs(1),
	RunE:  runTasks,
}

func init() {
	enqueueCmd.Flags().StringVarP(&enqueueFile, "file", "f", "", "Text file to index, - for stdin")
	enqueueCmd.Flags().StringVarP(&enqueueName, "name", "n", "", "Display name recorded with the index")
	_ = enqueueCmd.MarkFlagRequired("file")

	for _, c := range []*cobra.Command{enqueueCmd, enqueueDeleteCmd} {
		c.Flags().BoolVarP(&enqueueWait, "wait", "w", false, "Wait for the task to finish and print its result")
		c.Flags().DurationVar(&waitTimeout, "timeout", 5*time.Minute, "Maximum time to wait with --wait")
		c.Flags().DurationVar(&enqueueIn, "delay", 0, "Delay before the task becomes available to workers")
	}

	rootCmd.AddCommand(workerCmd, enqueueCmd, enqueueDeleteCmd, tasksCmd)
}

func queueConfig() *taskqueue.Config {
	cfg := taskqueue.DefaultConfig()
	cfg.RedisAddr = appConfig.Queue.RedisAddr
	cfg.RedisPassword = appConfig.Queue.RedisPassword
	cfg.RedisDB = appConfig.Queue.RedisDB
	cfg.Concurrency = appConfig.Queue.Concurrency
	cfg.RetryLimit = appConfig.Queue.RetryLimit
	if appConfig.Queue.RetryDelay > 0 {
		cfg.RetryDelay = appConfig.Queue.RetryDelay
	}
	return cfg
}

func runWorker(cmd *cobra.Command, args []string) error {
	a, err := newApp(appConfig)
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := queueConfig()
	queue, err := taskqueue.NewRedisQueue(cfg, a.logger)
	if err != nil {
		return err
	}
	defer queue.Close()

	worker := taskqueue.NewRedisWorker(queue, cfg)
	taskqueue.RegisterIndexHandler(worker, taskqueue.NewIndexHandler(a.builder, a.documents, a.logger))
	if err := worker.Start(); err != nil {
		return err
	}

	a.logger.WithFields(logrus.Fields{
		"redis":       cfg.RedisAddr,
		"concurrency": cfg.Concurrency,
	}).Info("Index worker started")

	<-cmd.Context().Done()

	a.logger.Info("Shutting down index worker...")
	worker.Stop()
	return nil
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	text, err := readText(cmd, enqueueFile)
	if err != nil {
		return err
	}

	payload := taskqueue.IndexBuildPayload{
		Text:       text,
		SourceName: sourceName(enqueueFile, enqueueName),
	}
	return enqueue(cmd, taskqueue.TaskIndexBuild, document.Identify(text), payload)
}

func runEnqueueDelete(cmd *cobra.Command, args []string) error {
	if !document.ValidID(args[0]) {
		return fmt.Errorf("invalid document id: %s", args[0])
	}
	return enqueue(cmd, taskqueue.TaskIndexDelete, args[0], taskqueue.IndexDeletePayload{DocumentID: args[0]})
}

func enqueue(cmd *cobra.Command, taskType taskqueue.TaskType, documentID string, payload interface{}) error {
	queue, err := taskqueue.NewQueue("redis", queueConfig())
	if err != nil {
		return err
	}
	defer queue.Close()

	var taskID string
	if enqueueIn > 0 {
		taskID, err = queue.EnqueueIn(cmd.Context(), taskType, documentID, payload, enqueueIn)
	} else {
		taskID, err = queue.Enqueue(cmd.Context(), taskType, documentID, payload)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if !enqueueWait {
		fmt.Fprintf(out, "queued task %s for document %s\n", taskID, documentID)
		return nil
	}

	task, err := queue.WaitForTask(cmd.Context(), taskID, waitTimeout)
	if err != nil {
		return err
	}
	if task.Status == taskqueue.StatusFailed {
		return fmt.Errorf("task %s failed: %s", taskID, task.Error)
	}
	return printJSON(out, task)
}

func runTasks(cmd *cobra.Command, args []string) error {
	if !document.ValidID(args[0]) {
		return fmt.Errorf("invalid document id: %s", args[0])
	}

	queue, err := taskqueue.NewQueue("redis", queueConfig())
	if err != nil {
		return err
	}
	defer queue.Close()

	tasks, err := queue.GetTasksByDocument(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK ID\tTYPE\tSTATUS\tATTEMPTS\tCREATED\tERROR")
	for _, t := range tasks {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			t.ID, t.Type, t.Status, t.Attempts, t.CreatedAt.Format(time.RFC3339), t.Error)
	}
	return tw.Flush()
}
