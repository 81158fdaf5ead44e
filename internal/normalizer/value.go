// Package normalizer извлекает простой текст из ответов бэкендов заранее неизвестной формы.
package normalizer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Kind - вариант размеченного объединения Value.
type Kind int

const (
	KindNull Kind = iota
	KindScalar
	KindMapping
	KindList
)

// Value - нетипизированный ответ бэкенда: скаляр, отображение или список.
// Нулевое значение - KindNull.
type Value struct {
	kind    Kind
	scalar  interface{}
	mapping map[string]Value
	list    []Value
}

// Scalar создает скалярное значение.
func Scalar(s interface{}) Value { return Value{kind: KindScalar, scalar: s} }

// Mapping создает отображение.
func Mapping(m map[string]Value) Value { return Value{kind: KindMapping, mapping: m} }

// List создает список.
func List(items ...Value) Value { return Value{kind: KindList, list: items} }

// FromJSON разбирает JSON. Некорректный JSON становится строковым скаляром с исходным телом.
func FromJSON(data []byte) Value {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return Scalar(string(data))
	}
	return FromAny(raw)
}

// FromAny строит Value из результата json.Unmarshal или из простых Go-значений.
// Неизвестные типы становятся скаляром в строковой форме.
func FromAny(x interface{}) Value {
	switch t := x.(type) {
	case nil:
		return Value{}
	case Value:
		return t
	case map[string]interface{}:
		m := make(map[string]Value, len(t))
		for k, v := range t {
			m[k] = FromAny(v)
		}
		return Mapping(m)
	case map[string]string:
		m := make(map[string]Value, len(t))
		for k, v := range t {
			m[k] = Scalar(v)
		}
		return Mapping(m)
	case []interface{}:
		items := make([]Value, 0, len(t))
		for _, v := range t {
			items = append(items, FromAny(v))
		}
		return List(items...)
	case []string:
		items := make([]Value, 0, len(t))
		for _, v := range t {
			items = append(items, Scalar(v))
		}
		return List(items...)
	case string, bool, json.Number, float64, float32, int, int64, int32, uint, uint64:
		return Scalar(t)
	case fmt.Stringer:
		return Scalar(t.String())
	default:
		return Scalar(fmt.Sprint(t))
	}
}

// Kind возвращает вариант значения.
func (v Value) Kind() Kind { return v.kind }

// IsNull сообщает, что значение отсутствует.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Get возвращает поле отображения или KindNull.
func (v Value) Get(key string) Value {
	if v.kind != KindMapping {
		return Value{}
	}
	return v.mapping[key]
}

// Index возвращает элемент списка или KindNull.
func (v Value) Index(i int) Value {
	if v.kind != KindList || i < 0 || i >= len(v.list) {
		return Value{}
	}
	return v.list[i]
}

// Len - длина списка или число ключей отображения.
func (v Value) Len() int {
	switch v.kind {
	case KindList:
		return len(v.list)
	case KindMapping:
		return len(v.mapping)
	}
	return 0
}

// Items возвращает элементы списка.
func (v Value) Items() []Value {
	if v.kind != KindList {
		return nil
	}
	return v.list
}

// Keys возвращает ключи отображения в отсортированном порядке.
func (v Value) Keys() []string {
	if v.kind != KindMapping {
		return nil
	}
	keys := make([]string, 0, len(v.mapping))
	for k := range v.mapping {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String возвращает строковую форму: сам скаляр или компактный JSON для контейнеров.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindScalar:
		switch s := v.scalar.(type) {
		case string:
			return s
		case json.Number:
			return s.String()
		case bool:
			return strconv.FormatBool(s)
		default:
			return fmt.Sprint(s)
		}
	}
	b, err := json.Marshal(v.plain())
	if err != nil {
		return fmt.Sprint(v.plain())
	}
	return string(b)
}

func (v Value) plain() interface{} {
	switch v.kind {
	case KindScalar:
		return v.scalar
	case KindMapping:
		m := make(map[string]interface{}, len(v.mapping))
		for k, c := range v.mapping {
			m[k] = c.plain()
		}
		return m
	case KindList:
		items := make([]interface{}, 0, len(v.list))
		for _, c := range v.list {
			items = append(items, c.plain())
		}
		return items
	}
	return nil
}
