package repository

import (
	"context"
	"errors"
	"time"

	"taskledger/internal/model"

	"gorm.io/gorm"
)

var (
	ErrTaskNotFound      = errors.New("任务不存在")
	ErrTaskStatusInvalid = errors.New("任务状态不合法")
)

type TaskRepository struct {
	db *gorm.DB
}

func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

func (r *TaskRepository) Create(ctx context.Context, tx *gorm.DB, task *model.Task) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(task).Error
}

func (r *TaskRepository) GetByID(ctx context.Context, taskID int64) (*model.Task, error) {
	var task model.Task
	err := r.db.WithContext(ctx).Where("id = ?", taskID).First(&task).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return &task, nil
}

// GetPendingGoldenEgg 查找该用户待办的黄金蛋任务，没有则返回 (nil, nil)
// 黄金蛋任务无视序号插队，派发时优先返回
func (r *TaskRepository) GetPendingGoldenEgg(ctx context.Context, membershipID string) (*model.Task, error) {
	var task model.Task
	err := r.db.WithContext(ctx).
		Where("membership_id = ? AND status = ? AND has_golden_egg = ?",
			membershipID, model.TaskStatusPending, true).
		Order("task_number ASC").
		First(&task).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &task, nil
}

// GetPendingByNumber 按序号查找待办的预分配任务，没有则返回 (nil, nil)
func (r *TaskRepository) GetPendingByNumber(ctx context.Context, membershipID string, taskNumber int) (*model.Task, error) {
	var task model.Task
	err := r.db.WithContext(ctx).
		Where("membership_id = ? AND status = ? AND source = ? AND task_number = ?",
			membershipID, model.TaskStatusPending, model.TaskSourcePreassigned, taskNumber).
		First(&task).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &task, nil
}

// UpdateStatus 状态流转，带白名单校验 + 条件更新防并发改写
func (r *TaskRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, taskID int64, fromStatus, toStatus string) error {
	if !model.TaskCanTransitionTo(fromStatus, toStatus) {
		return ErrTaskStatusInvalid
	}

	if tx == nil {
		tx = r.db
	}

	updates := map[string]interface{}{
		"status": toStatus,
	}
	if toStatus == model.TaskStatusCompleted {
		now := time.Now()
		updates["completed_at"] = &now
	}

	result := tx.WithContext(ctx).
		Model(&model.Task{}).
		Where("id = ? AND status = ?", taskID, fromStatus).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrTaskStatusInvalid
	}

	return nil
}

// ListPoolCampaignIDs 该用户已完成过的池活动ID（用于派发去重）
func (r *TaskRepository) ListPoolCampaignIDs(ctx context.Context, membershipID string) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).
		Model(&model.Task{}).
		Where("membership_id = ? AND source = ? AND status = ?",
			membershipID, model.TaskSourcePool, model.TaskStatusCompleted).
		Pluck("campaign_id", &ids).Error
	return ids, err
}

func (r *TaskRepository) ListByMembershipID(ctx context.Context, membershipID string, page, pageSize int) ([]*model.Task, int64, error) {
	var tasks []*model.Task
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Task{}).Where("membership_id = ?", membershipID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("task_number ASC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&tasks).Error

	return tasks, total, err
}

type CampaignRepository struct {
	db *gorm.DB
}

func NewCampaignRepository(db *gorm.DB) *CampaignRepository {
	return &CampaignRepository{db: db}
}

func (r *CampaignRepository) ListActive(ctx context.Context) ([]*model.Campaign, error) {
	var campaigns []*model.Campaign
	err := r.db.WithContext(ctx).
		Where("status = ?", "ACTIVE").
		Find(&campaigns).Error
	return campaigns, err
}
