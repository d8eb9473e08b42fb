// 包 entry：记忆条目的领域模型与字段校验
package entry

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"memory-map/internal/geo"
)

// Entry：一条带地理位置的记忆；ID 由存储在创建时分配，之后不可变
type Entry struct {
	ID           string    `json:"id,omitempty"`
	Coords       geo.Point `json:"coords"`
	LocationText string    `json:"locationText"`
	TimeText     string    `json:"timeText,omitempty"`
	MemoryText   string    `json:"memoryText"`
	NumVisits    int64     `json:"numVisits"`
}

// Draft：待提交的表单内容，字段规则由 validator 标签描述
type Draft struct {
	Coords       *geo.Point `validate:"required"`
	LocationText string     `validate:"required"`
	TimeText     string     `validate:"required_if=RequireTime true"`
	MemoryText   string     `validate:"required"`
	RequireTime  bool
}

var (
	ErrMissingFields = errors.New("missing required fields")
	ErrBadCoords     = errors.New("coordinates out of range")
	ErrNegativeVisit = errors.New("negative visit count")
)

var (
	vOnce sync.Once
	v     *validator.Validate
)

func validate() *validator.Validate {
	vOnce.Do(func() { v = validator.New() })
	return v
}

// Normalize：去除首尾空白，与表单读取时的 trim 行为一致
func (d Draft) Normalize() Draft {
	d.LocationText = strings.TrimSpace(d.LocationText)
	d.TimeText = strings.TrimSpace(d.TimeText)
	d.MemoryText = strings.TrimSpace(d.MemoryText)
	return d
}

// 文档注释：校验表单必填项
// 返回：缺失字段时返回包裹 ErrMissingFields 的错误，字段名列在消息中
func (d Draft) Validate() error {
	err := validate().Struct(d.Normalize())
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		names := make([]string, 0, len(ve))
		for _, fe := range ve {
			names = append(names, fe.Field())
		}
		return fmt.Errorf("%w: %s", ErrMissingFields, strings.Join(names, ","))
	}
	return err
}

// Entry：把通过校验的表单转为新条目，访问次数从 0 开始
func (d Draft) Entry() Entry {
	n := d.Normalize()
	e := Entry{LocationText: n.LocationText, TimeText: n.TimeText, MemoryText: n.MemoryText}
	if n.Coords != nil {
		e.Coords = *n.Coords
	}
	return e
}

// 文档注释：校验已有条目（导入与接口写入路径）
// 约束：坐标需在合法经纬度范围内；requireTime 为 true 时时间文本必填；访问次数非负
func (e Entry) Validate(requireTime bool) error {
	if e.Coords.Lat < -90 || e.Coords.Lat > 90 || e.Coords.Lng < -180 || e.Coords.Lng > 180 {
		return ErrBadCoords
	}
	if e.NumVisits < 0 {
		return ErrNegativeVisit
	}
	c := e.Coords
	return Draft{
		Coords:       &c,
		LocationText: e.LocationText,
		TimeText:     e.TimeText,
		MemoryText:   e.MemoryText,
		RequireTime:  requireTime,
	}.Validate()
}
