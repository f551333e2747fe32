// Package backup — service.go содержит выгрузку и проверку резервных копий.
package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/family-stars/internal/common"
	"serotonyl.ru/family-stars/internal/config"
	"serotonyl.ru/family-stars/internal/features/ledger"
)

// Service делает резервные копии семьи.
type Service struct {
	store Store
	cfg   *config.Config
	now   func() time.Time
}

// NewService создаёт сервис резервных копий.
func NewService(store Store, cfg *config.Config) *Service {
	return &Service{store: store, cfg: cfg, now: time.Now}
}

// Export снимает копию состояния семьи.
func (s *Service) Export(ctx context.Context, ownerID string) (*Snapshot, error) {
	data, err := s.store.Dump(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	Normalize(data)
	snap := &Snapshot{
		Version:   CurrentVersion,
		Timestamp: s.now().UTC().Truncate(time.Second),
		Data:      *data,
	}
	log.WithFields(log.Fields{
		"owner_id":     ownerID,
		"children":     len(data.Children),
		"transactions": len(data.Transactions),
	}).Info("Резервная копия создана")
	return snap, nil
}

// Encode сериализует копию в читаемый JSON.
func Encode(snap *Snapshot) ([]byte, error) {
	return json.MarshalIndent(snap, "", "  ")
}

// Parse разбирает документ и проверяет его структуру.
// Документ без обязательных массивов отклоняется целиком.
func Parse(raw []byte) (*Snapshot, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrBackupMalformed, err)
	}

	rawVersion, ok := top["version"]
	if !ok {
		return nil, fmt.Errorf("%w: нет поля version", common.ErrBackupMalformed)
	}
	var version int
	if err := json.Unmarshal(rawVersion, &version); err != nil {
		return nil, fmt.Errorf("%w: version должен быть числом", common.ErrBackupMalformed)
	}
	if version != CurrentVersion {
		return nil, fmt.Errorf("%w: %d", common.ErrBackupVersion, version)
	}

	var data map[string]json.RawMessage
	if err := json.Unmarshal(top["data"], &data); err != nil || data == nil {
		return nil, fmt.Errorf("%w: нет объекта data", common.ErrBackupMalformed)
	}
	for _, field := range requiredArrays {
		v, ok := data[field]
		if !ok {
			return nil, fmt.Errorf("%w: нет поля data.%s", common.ErrBackupMalformed, field)
		}
		if v = bytes.TrimSpace(v); len(v) == 0 || v[0] != '[' {
			return nil, fmt.Errorf("%w: data.%s должно быть массивом", common.ErrBackupMalformed, field)
		}
	}

	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrBackupMalformed, err)
	}
	return &snap, nil
}

// Validate проверяет ссылки между записями и сходимость балансов с журналом.
func (s *Service) Validate(snap *Snapshot) error {
	d := &snap.Data
	if len(d.Children) > s.cfg.FamilyMaxChildren {
		return common.ErrChildLimit
	}

	children := make(map[string]int64, len(d.Children))
	seenChildren := ids{}
	for _, c := range d.Children {
		if c == nil {
			return fmt.Errorf("%w: пустая запись ребёнка", common.ErrBackupMalformed)
		}
		if err := seenChildren.add("ребёнок", c.ID); err != nil {
			return err
		}
		children[c.ID] = 0
	}

	tasks := ids{}
	for _, t := range d.Tasks {
		if t == nil {
			return fmt.Errorf("%w: пустая запись задания", common.ErrBackupMalformed)
		}
		if err := tasks.add("задание", t.ID); err != nil {
			return err
		}
		if t.RewardValue < 0 {
			return fmt.Errorf("%w: задание %s с отрицательной наградой", common.ErrBackupMalformed, t.ID)
		}
	}
	categories := ids{}
	for _, c := range d.Categories {
		if c == nil {
			return fmt.Errorf("%w: пустая запись категории", common.ErrBackupMalformed)
		}
		if err := categories.add("категория", c.ID); err != nil {
			return err
		}
	}
	rewards := ids{}
	for _, r := range d.Rewards {
		if r == nil || !r.Type.Valid() || r.CostValue < 0 {
			return fmt.Errorf("%w: некорректная награда", common.ErrBackupMalformed)
		}
		if err := rewards.add("награда", r.ID); err != nil {
			return err
		}
	}

	logs := ids{}
	for _, l := range d.ChildLogs {
		if l == nil {
			return fmt.Errorf("%w: пустая запись выполнения", common.ErrBackupMalformed)
		}
		if err := logs.add("выполнение", l.ID); err != nil {
			return err
		}
		if _, ok := children[l.ChildID]; !ok {
			return fmt.Errorf("%w: выполнение %s ссылается на неизвестного ребёнка", common.ErrBackupMalformed, l.ID)
		}
		if !tasks[l.TaskID] {
			return fmt.Errorf("%w: выполнение %s ссылается на неизвестное задание", common.ErrBackupMalformed, l.ID)
		}
		switch l.Status {
		case ledger.StatusPending, ledger.StatusVerified, ledger.StatusRejected, ledger.StatusCompleted:
		default:
			return fmt.Errorf("%w: выполнение %s в статусе %q", common.ErrBackupMalformed, l.ID, l.Status)
		}
	}

	txs := ids{}
	for _, t := range d.Transactions {
		if t == nil {
			return fmt.Errorf("%w: пустая запись транзакции", common.ErrBackupMalformed)
		}
		if err := txs.add("транзакция", t.ID); err != nil {
			return err
		}
		sum, ok := children[t.ChildID]
		if !ok {
			return fmt.Errorf("%w: транзакция %s ссылается на неизвестного ребёнка", common.ErrBackupMalformed, t.ID)
		}
		children[t.ChildID] = sum + t.Amount
	}
	for _, c := range d.Children {
		if c.Balance != children[c.ID] {
			return fmt.Errorf("%w: %s: баланс %d, сумма транзакций %d",
				common.ErrBackupUnbalanced, c.Name, c.Balance, children[c.ID])
		}
	}
	return nil
}

// ids — уже встреченные ID записей одного вида.
type ids map[string]bool

func (s ids) add(kind, id string) error {
	if id == "" {
		return fmt.Errorf("%w: %s без id", common.ErrBackupMalformed, kind)
	}
	if s[id] {
		return fmt.Errorf("%w: %s %s повторяется", common.ErrBackupMalformed, kind, id)
	}
	s[id] = true
	return nil
}

// Restore проверяет документ и заменяет им состояние семьи.
// При любой ошибке проверки хранилище не меняется.
func (s *Service) Restore(ctx context.Context, ownerID string, raw []byte) (*Snapshot, error) {
	snap, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	if err := s.Validate(snap); err != nil {
		return nil, err
	}

	rebind(ownerID, &snap.Data)
	if err := s.store.Replace(ctx, ownerID, &snap.Data); err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"owner_id":     ownerID,
		"version":      snap.Version,
		"taken_at":     snap.Timestamp,
		"children":     len(snap.Data.Children),
		"transactions": len(snap.Data.Transactions),
	}).Warn("Состояние семьи восстановлено из резервной копии")
	return snap, nil
}

// rebind переносит все записи копии в семью ownerID.
func rebind(ownerID string, d *Data) {
	for _, c := range d.Children {
		c.OwnerID = ownerID
	}
	for _, t := range d.Tasks {
		t.OwnerID = ownerID
	}
	for _, r := range d.Rewards {
		r.OwnerID = ownerID
	}
	for _, c := range d.Categories {
		c.OwnerID = ownerID
	}
	for _, l := range d.ChildLogs {
		l.OwnerID = ownerID
	}
	for _, t := range d.Transactions {
		t.OwnerID = ownerID
	}
}
