package planner

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/John-Robertt/sb3fetch/internal/domain"
	"github.com/John-Robertt/sb3fetch/internal/infra/fsx"
)

// LockSuffix 是输出锁文件的后缀：<output>.lock。
const LockSuffix = ".lock"

// Error 是计划阶段的前置条件错误（在任何网络请求之前返回）。
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s：%q：%v", e.Code, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Code 从 error 中提取计划阶段的 error_code；不是 *Error 时返回空串。
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// PlanArchive 读取输出落点的现状（只做 Lstat，不写任何东西），生成本次 run 的输出计划。
//
// - 输出文件已存在：output_exists（不覆盖）
// - 输出路径是目录/特殊文件，或父路径不是目录：target_conflict
// - 父目录不存在不算错误（执行阶段再创建）
func PlanArchive(id domain.ProjectID, output string) (domain.ArchivePlan, error) {
	if !filepath.IsAbs(output) {
		return domain.ArchivePlan{}, &Error{Code: domain.ErrCodeTargetConflict, Path: output, Err: errors.New("输出路径必须是绝对路径")}
	}
	output = filepath.Clean(output)
	dir, name := filepath.Split(output)
	dir = filepath.Clean(dir)

	if fi, err := os.Stat(dir); err == nil && !fi.IsDir() {
		return domain.ArchivePlan{}, &Error{
			Code: domain.ErrCodeTargetConflict,
			Path: dir,
			Err:  &fsx.PathTypeConflictError{Path: dir, Want: "dir", Got: "file"},
		}
	}

	if err := fsx.CheckNoOverwrite(output); err != nil {
		switch {
		case errors.Is(err, os.ErrExist):
			return domain.ArchivePlan{}, &Error{Code: domain.ErrCodeOutputExists, Path: output, Err: err}
		case fsx.IsPathTypeConflict(err):
			return domain.ArchivePlan{}, &Error{Code: domain.ErrCodeTargetConflict, Path: output, Err: err}
		default:
			return domain.ArchivePlan{}, &Error{Code: domain.ErrCodeArchiveFailed, Path: output, Err: err}
		}
	}

	return domain.ArchivePlan{
		ProjectID: id,
		OutputAbs: output,
		Dir:       dir,
		Name:      name,
		LockPath:  output + LockSuffix,
	}, nil
}

// PlanAssets 按 manifest 顺序展开资源抓取计划：逐个 target，先 costumes 后 sounds。
// 同一内容标识出现多次也会各自生成一个 job（不做去重）。
func PlanAssets(m domain.Manifest) []domain.AssetJob {
	jobs := make([]domain.AssetJob, 0, m.AssetCount())
	for ti, t := range m.Targets {
		for _, list := range [][]domain.AssetRef{t.Costumes, t.Sounds} {
			for _, ref := range list {
				jobs = append(jobs, domain.AssetJob{
					Seq:         len(jobs),
					TargetIndex: ti,
					TargetName:  t.Name,
					Ref:         ref,
				})
			}
		}
	}
	return jobs
}

// TargetSizes 返回每个 target 的计划资源数（用于按 target 汇报进度）。
func TargetSizes(m domain.Manifest) []int {
	out := make([]int, len(m.Targets))
	for i, t := range m.Targets {
		out[i] = len(t.Costumes) + len(t.Sounds)
	}
	return out
}
