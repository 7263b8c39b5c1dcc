package file

import (
	"context"
	"io"

	"github.com/chararch/pagebatch"
)

//CopyTask a step task copying each file from its source storage to its destination, e.g. publishing an export to ftp
func CopyTask(filesToMove ...FileMove) pagebatch.Task {
	return func(ctx context.Context, execution *pagebatch.StepExecution) pagebatch.BatchError {
		for _, fm := range filesToMove {
			if err := copyFile(ctx, fm, execution); err != nil {
				return err
			}
		}
		return nil
	}
}

func copyFile(ctx context.Context, fm FileMove, execution *pagebatch.StepExecution) pagebatch.BatchError {
	logger := pagebatch.GetLogger()
	fromFileName, err := (&FilePath{fm.FromFileName}).Format(execution)
	if err != nil {
		return pagebatch.WrapError(pagebatch.ErrCodeGeneral, err, "get real file path:%v", fm.FromFileName)
	}
	toFileName, err := (&FilePath{fm.ToFileName}).Format(execution)
	if err != nil {
		return pagebatch.WrapError(pagebatch.ErrCodeGeneral, err, "get real file path:%v", fm.ToFileName)
	}

	reader, err := fm.FromFileStore.Open(fromFileName)
	if err != nil {
		return pagebatch.WrapError(pagebatch.ErrCodeGeneral, err, "open from file:%v", fromFileName)
	}
	defer func() {
		if er := reader.Close(); er != nil {
			logger.Error(ctx, "close file reader:%v error:%v", fromFileName, er)
		}
	}()

	writer, err := fm.ToFileStore.Create(toFileName)
	if err != nil {
		return pagebatch.WrapError(pagebatch.ErrCodeGeneral, err, "open to file:%v", toFileName)
	}
	n, err := io.Copy(writer, reader)
	//an upload is only complete once the writer is closed
	if er := writer.Close(); er != nil && err == nil {
		err = er
	}
	if err != nil {
		return pagebatch.WrapError(pagebatch.ErrCodeGeneral, err, "copy file: %v -> %v", fromFileName, toFileName)
	}
	logger.Info(ctx, "copy file finished, jobExecutionId:%v, stepName:%v, from:%v, to:%v, bytes:%v", execution.JobExecution.JobExecutionId, execution.StepName, fromFileName, toFileName, n)
	return nil
}
