package script

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// goToLua converts a fetched record value into a Lua value. Maps become
// tables, slices become array tables, numbers become Lua numbers.
func goToLua(L *lua.LState, v interface{}) lua.LValue {
	switch t := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(t)
	case string:
		return lua.LString(t)
	case int:
		return lua.LNumber(t)
	case int32:
		return lua.LNumber(t)
	case int64:
		return lua.LNumber(t)
	case float32:
		return lua.LNumber(t)
	case float64:
		return lua.LNumber(t)
	case []interface{}:
		table := L.NewTable()
		for i, item := range t {
			table.RawSetInt(i+1, goToLua(L, item))
		}
		return table
	case map[string]interface{}:
		table := L.NewTable()
		for k, item := range t {
			table.RawSetString(k, goToLua(L, item))
		}
		return table
	default:
		return lua.LString(fmt.Sprintf("%v", t))
	}
}

// luaToGo converts a Lua value back into plain Go data. Tables with only
// consecutive integer keys become slices, everything else becomes a map.
// Integral numbers come back as int64.
func luaToGo(v lua.LValue) interface{} {
	switch t := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(t)
	case lua.LString:
		return string(t)
	case lua.LNumber:
		f := float64(t)
		if f == float64(int64(f)) {
			return int64(f)
		}
		return f
	case *lua.LTable:
		return tableToGo(t)
	default:
		return nil
	}
}

func tableToGo(t *lua.LTable) interface{} {
	length := t.Len()
	if length > 0 {
		arr := make([]interface{}, 0, length)
		isArray := true
		t.ForEach(func(k, v lua.LValue) {
			if _, ok := k.(lua.LNumber); !ok {
				isArray = false
			}
		})
		if isArray {
			for i := 1; i <= length; i++ {
				arr = append(arr, luaToGo(t.RawGetInt(i)))
			}
			return arr
		}
	}
	m := make(map[string]interface{})
	t.ForEach(func(k, v lua.LValue) {
		m[lua.LVAsString(k)] = luaToGo(v)
	})
	return m
}

// recordSetsToLua builds the table passed to transform(): entity name to
// array of record tables.
func recordSetsToLua(L *lua.LState, sets map[string][]map[string]interface{}) *lua.LTable {
	root := L.NewTable()
	for entity, records := range sets {
		arr := L.NewTable()
		for i, rec := range records {
			arr.RawSetInt(i+1, goToLua(L, map[string]interface{}(rec)))
		}
		root.RawSetString(entity, arr)
	}
	return root
}

func luaString(v lua.LValue) string {
	if v == lua.LNil {
		return ""
	}
	if s, ok := v.(lua.LString); ok {
		return string(s)
	}
	if n, ok := v.(lua.LNumber); ok {
		return lua.LVAsString(n)
	}
	return ""
}
