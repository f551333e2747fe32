package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"serotonyl.ru/family-stars/internal/app"
	"serotonyl.ru/family-stars/internal/common"
	"serotonyl.ru/family-stars/internal/features/family"
	"serotonyl.ru/family-stars/internal/features/parent"
)

// SeedFile — описание семьи для начального заполнения.
type SeedFile struct {
	Family     SeedFamily     `yaml:"family"`
	Children   []SeedChild    `yaml:"children"`
	Categories []SeedCategory `yaml:"categories"`
	Tasks      []SeedTask     `yaml:"tasks"`
	Rewards    []SeedReward   `yaml:"rewards"`
}

type SeedFamily struct {
	ChatID   int64   `yaml:"chat_id"`
	Name     string  `yaml:"name"`
	Parents  []int64 `yaml:"parents"` // Первый становится создателем семьи
	Pin      string  `yaml:"pin"`
	Timezone string  `yaml:"timezone"`
}

type SeedChild struct {
	Name      string `yaml:"name"`
	Avatar    string `yaml:"avatar"`
	BirthDate string `yaml:"birth_date"` // ГГГГ-ММ-ДД
}

type SeedCategory struct {
	Name string `yaml:"name"`
	Icon string `yaml:"icon"`
}

type SeedTask struct {
	Name       string `yaml:"name"`
	Stars      int64  `yaml:"stars"`
	Recurrence string `yaml:"recurrence"` // once | daily | weekly
	Category   string `yaml:"category"`
}

type SeedReward struct {
	Name     string   `yaml:"name"`
	Cost     int64    `yaml:"cost"`
	Category string   `yaml:"category"`
	Type     string   `yaml:"type"`  // once | unlimited | accumulative
	Task     string   `yaml:"task"`  // Для accumulative: название задания
	Count    int      `yaml:"count"` // Для accumulative: сколько проверенных выполнений нужно
	Children []string `yaml:"children"`
}

// SeedResult — что создано.
type SeedResult struct {
	FamilyID   string `json:"family_id"`
	Created    bool   `json:"created"` // false — семья уже была, записи добавлены к ней
	Children   int    `json:"children"`
	Categories int    `json:"categories"`
	Tasks      int    `json:"tasks"`
	Rewards    int    `json:"rewards"`
}

// NewSeedCommand создаёт команду seed.
func NewSeedCommand(opts *RootOptions, open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <file.yaml|->",
		Short: "Создать семью с детьми, заданиями и наградами из YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			seed, err := ParseSeed(raw)
			if err != nil {
				return err
			}
			return withServices(cmd, open, func(ctx context.Context, s *app.Services) error {
				res, err := ApplySeed(ctx, s, seed)
				if err != nil {
					return err
				}
				return output(cmd.OutOrStdout(), opts, res, func(w io.Writer) error {
					verb := "создана"
					if !res.Created {
						verb = "дополнена"
					}
					_, err := fmt.Fprintf(w, "Семья %q %s: детей %d, категорий %d, заданий %d, наград %d\n",
						seed.Family.Name, verb, res.Children, res.Categories, res.Tasks, res.Rewards)
					return err
				})
			})
		},
	}
}

// ParseSeed разбирает YAML. Неизвестные поля считаются ошибкой.
func ParseSeed(raw []byte) (*SeedFile, error) {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)

	var seed SeedFile
	if err := dec.Decode(&seed); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrValidation, err)
	}
	if seed.Family.ChatID == 0 {
		return nil, fmt.Errorf("%w: family.chat_id обязателен", common.ErrValidation)
	}
	if len(seed.Family.Parents) == 0 {
		return nil, fmt.Errorf("%w: нужен хотя бы один родитель в family.parents", common.ErrValidation)
	}
	return &seed, nil
}

// ApplySeed создаёт (или дополняет) семью по описанию.
func ApplySeed(ctx context.Context, s *app.Services, seed *SeedFile) (*SeedResult, error) {
	res := &SeedResult{}

	f, err := s.Families.FamilyByChat(ctx, seed.Family.ChatID)
	switch {
	case errors.Is(err, common.ErrNotFound):
		f, err = s.Families.CreateFamily(ctx, seed.Family.ChatID, seed.Family.Name, seed.Family.Parents[0])
		if err != nil {
			return nil, err
		}
		res.Created = true
	case err != nil:
		return nil, err
	}
	res.FamilyID = f.ID

	for _, userID := range seed.Family.Parents {
		if err := s.Families.AddParent(ctx, f.ID, userID); err != nil {
			return nil, err
		}
	}
	if seed.Family.Pin != "" {
		if err := parent.ValidatePin(seed.Family.Pin); err != nil {
			return nil, err
		}
		hash, err := parent.HashPin(seed.Family.Pin)
		if err != nil {
			return nil, err
		}
		if err := s.Families.SetPinHash(ctx, f.ID, hash); err != nil {
			return nil, err
		}
	}
	if seed.Family.Timezone != "" {
		if _, err := s.Families.UpdateSettings(ctx, f.ID, func(st *family.Settings) {
			st.Timezone = seed.Family.Timezone
		}); err != nil {
			return nil, err
		}
	}

	children := make(map[string]string) // имя → ID
	for _, c := range seed.Children {
		var birth *time.Time
		if c.BirthDate != "" {
			d, err := time.Parse("2006-01-02", c.BirthDate)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: дата рождения %q", common.ErrValidation, c.Name, c.BirthDate)
			}
			birth = &d
		}
		child, err := s.Families.AddChild(ctx, f.ID, c.Name, c.Avatar, birth)
		if err != nil {
			return nil, fmt.Errorf("ребёнок %q: %w", c.Name, err)
		}
		children[strings.ToLower(child.Name)] = child.ID
		res.Children++
	}

	existing, err := s.Families.Categories(ctx, f.ID)
	if err != nil {
		return nil, err
	}
	for _, c := range seed.Categories {
		if slices.ContainsFunc(existing, func(e *family.Category) bool { return strings.EqualFold(e.Name, c.Name) }) {
			continue
		}
		if _, err := s.Families.AddCategory(ctx, f.ID, c.Name, c.Icon); err != nil {
			return nil, fmt.Errorf("категория %q: %w", c.Name, err)
		}
		res.Categories++
	}

	tasks := make(map[string]string)
	for _, t := range seed.Tasks {
		task, err := s.Families.AddTask(ctx, f.ID, family.NewTask{
			Name:         t.Name,
			RewardValue:  t.Stars,
			Recurrence:   family.Recurrence(strings.ToUpper(t.Recurrence)),
			CategoryName: t.Category,
		})
		if err != nil {
			return nil, fmt.Errorf("задание %q: %w", t.Name, err)
		}
		tasks[strings.ToLower(task.Name)] = task.ID
		res.Tasks++
	}

	for _, r := range seed.Rewards {
		in, err := seedReward(ctx, s, f.ID, r, children, tasks)
		if err != nil {
			return nil, fmt.Errorf("награда %q: %w", r.Name, err)
		}
		if _, err := s.Families.AddReward(ctx, f.ID, in); err != nil {
			return nil, fmt.Errorf("награда %q: %w", r.Name, err)
		}
		res.Rewards++
	}
	return res, nil
}

var rewardTypes = map[string]family.RewardType{
	"":             family.RewardUnlimited,
	"unlimited":    family.RewardUnlimited,
	"once":         family.RewardOneTime,
	"one_time":     family.RewardOneTime,
	"accumulative": family.RewardAccumulative,
}

// seedReward переводит имена детей и заданий в ID.
// Имена ищутся сначала среди созданных этим файлом, потом в семье.
func seedReward(ctx context.Context, s *app.Services, ownerID string, r SeedReward, children, tasks map[string]string) (family.NewReward, error) {
	typ, ok := rewardTypes[strings.ToLower(r.Type)]
	if !ok {
		return family.NewReward{}, fmt.Errorf("%w: неизвестный тип %q", common.ErrValidation, r.Type)
	}
	in := family.NewReward{Name: r.Name, CostValue: r.Cost, Category: r.Category, Type: typ}

	if typ == family.RewardAccumulative {
		taskID, err := lookupTask(ctx, s, ownerID, r.Task, tasks)
		if err != nil {
			return in, err
		}
		count := r.Count
		in.RequiredTaskID = &taskID
		in.RequiredTaskCount = &count
	}

	for _, name := range r.Children {
		if id, ok := children[strings.ToLower(name)]; ok {
			in.AssignedTo = append(in.AssignedTo, id)
			continue
		}
		c, err := s.Families.ChildByName(ctx, ownerID, name)
		if err != nil {
			return in, fmt.Errorf("%w: %s", err, name)
		}
		in.AssignedTo = append(in.AssignedTo, c.ID)
	}
	return in, nil
}

func lookupTask(ctx context.Context, s *app.Services, ownerID, name string, created map[string]string) (string, error) {
	if id, ok := created[strings.ToLower(name)]; ok {
		return id, nil
	}
	all, err := s.Families.AllTasks(ctx, ownerID)
	if err != nil {
		return "", err
	}
	for _, t := range all {
		if strings.EqualFold(t.Name, name) {
			return t.ID, nil
		}
	}
	return "", fmt.Errorf("%w: %s", common.ErrTaskNotFound, name)
}
