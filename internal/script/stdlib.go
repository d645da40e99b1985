package script

import (
	"strings"
	"time"

	"github.com/google/uuid"
	lua "github.com/yuin/gopher-lua"
)

// newLibTable builds the lib helper table exposed to scripts: collection
// helpers, string utilities, guid and date functions, type predicates and
// progress reporting.
func (r *Runtime) newLibTable() *lua.LTable {
	L := r.state
	lib := L.NewTable()

	register := func(name string, fn lua.LGFunction) {
		L.SetField(lib, name, L.NewFunction(fn))
	}

	// collections. find and group_by take a field name; a function works
	// too for scripts that need more than one field.
	register("find", func(L *lua.LState) int {
		table := L.CheckTable(1)
		if pred, ok := L.Get(2).(*lua.LFunction); ok {
			for i := 1; i <= table.Len(); i++ {
				v := table.RawGetInt(i)
				L.Push(pred)
				L.Push(v)
				L.Call(1, 1)
				keep := lua.LVAsBool(L.Get(-1))
				L.Pop(1)
				if keep {
					L.Push(v)
					return 1
				}
			}
			L.Push(lua.LNil)
			return 1
		}
		field := L.CheckString(2)
		want := L.Get(3)
		for i := 1; i <= table.Len(); i++ {
			v := table.RawGetInt(i)
			rec, ok := v.(*lua.LTable)
			if !ok {
				continue
			}
			if rec.RawGetString(field) == want {
				L.Push(v)
				return 1
			}
		}
		L.Push(lua.LNil)
		return 1
	})
	register("filter", func(L *lua.LState) int {
		table := L.CheckTable(1)
		pred := L.CheckFunction(2)
		out := L.NewTable()
		n := 0
		for i := 1; i <= table.Len(); i++ {
			v := table.RawGetInt(i)
			L.Push(pred)
			L.Push(v)
			L.Call(1, 1)
			keep := lua.LVAsBool(L.Get(-1))
			L.Pop(1)
			if keep {
				n++
				out.RawSetInt(n, v)
			}
		}
		L.Push(out)
		return 1
	})
	register("map", func(L *lua.LState) int {
		table := L.CheckTable(1)
		fn := L.CheckFunction(2)
		out := L.NewTable()
		for i := 1; i <= table.Len(); i++ {
			L.Push(fn)
			L.Push(table.RawGetInt(i))
			L.Call(1, 1)
			out.RawSetInt(i, L.Get(-1))
			L.Pop(1)
		}
		L.Push(out)
		return 1
	})
	register("group_by", func(L *lua.LState) int {
		table := L.CheckTable(1)
		keyfn, isFn := L.Get(2).(*lua.LFunction)
		field := ""
		if !isFn {
			field = L.CheckString(2)
		}
		out := L.NewTable()
		for i := 1; i <= table.Len(); i++ {
			v := table.RawGetInt(i)
			var key lua.LValue
			if isFn {
				L.Push(keyfn)
				L.Push(v)
				L.Call(1, 1)
				key = L.Get(-1)
				L.Pop(1)
			} else {
				rec, ok := v.(*lua.LTable)
				if !ok {
					continue
				}
				key = rec.RawGetString(field)
			}
			if key == lua.LNil {
				continue
			}
			bucket, ok := L.GetTable(out, key).(*lua.LTable)
			if !ok {
				bucket = L.NewTable()
				L.SetTable(out, key, bucket)
			}
			bucket.RawSetInt(bucket.Len()+1, v)
		}
		L.Push(out)
		return 1
	})

	// identifiers
	register("guid", func(L *lua.LState) int {
		L.Push(lua.LString(uuid.NewString()))
		return 1
	})
	register("is_guid", func(L *lua.LState) int {
		s := L.OptString(1, "")
		_, err := uuid.Parse(s)
		L.Push(lua.LBool(err == nil))
		return 1
	})

	// strings
	register("lower", func(L *lua.LState) int {
		L.Push(lua.LString(strings.ToLower(L.CheckString(1))))
		return 1
	})
	register("upper", func(L *lua.LState) int {
		L.Push(lua.LString(strings.ToUpper(L.CheckString(1))))
		return 1
	})
	register("trim", func(L *lua.LState) int {
		L.Push(lua.LString(strings.TrimSpace(L.CheckString(1))))
		return 1
	})
	register("split", func(L *lua.LState) int {
		parts := strings.Split(L.CheckString(1), L.CheckString(2))
		out := L.NewTable()
		for i, p := range parts {
			out.RawSetInt(i+1, lua.LString(p))
		}
		L.Push(out)
		return 1
	})
	register("contains", func(L *lua.LState) int {
		L.Push(lua.LBool(strings.Contains(L.CheckString(1), L.CheckString(2))))
		return 1
	})
	register("starts_with", func(L *lua.LState) int {
		L.Push(lua.LBool(strings.HasPrefix(L.CheckString(1), L.CheckString(2))))
		return 1
	})
	register("ends_with", func(L *lua.LState) int {
		L.Push(lua.LBool(strings.HasSuffix(L.CheckString(1), L.CheckString(2))))
		return 1
	})

	// dates
	register("now", func(L *lua.LState) int {
		L.Push(lua.LString(time.Now().UTC().Format(time.RFC3339)))
		return 1
	})
	register("parse_date", func(L *lua.LState) int {
		s := L.CheckString(1)
		layout := L.OptString(2, time.RFC3339)
		t, err := time.Parse(layout, s)
		if err != nil {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(lua.LString(t.UTC().Format(time.RFC3339)))
		return 1
	})
	register("format_date", func(L *lua.LState) int {
		s := L.CheckString(1)
		layout := L.CheckString(2)
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(lua.LString(t.Format(layout)))
		return 1
	})

	// type predicates
	register("is_nil", typeCheck(func(v lua.LValue) bool { return v == lua.LNil }))
	register("is_string", typeCheck(func(v lua.LValue) bool { _, ok := v.(lua.LString); return ok }))
	register("is_number", typeCheck(func(v lua.LValue) bool { _, ok := v.(lua.LNumber); return ok }))
	register("is_table", typeCheck(func(v lua.LValue) bool { _, ok := v.(*lua.LTable); return ok }))
	register("is_boolean", typeCheck(func(v lua.LValue) bool { _, ok := v.(lua.LBool); return ok }))

	// progress reporting; never blocks the script
	register("log", func(L *lua.LState) int {
		if r.reporter != nil {
			r.reporter.Log(L.OptString(1, ""))
		}
		return 0
	})
	register("warn", func(L *lua.LState) int {
		if r.reporter != nil {
			r.reporter.Warn(L.OptString(1, ""))
		}
		return 0
	})
	register("status", func(L *lua.LState) int {
		if r.reporter != nil {
			r.reporter.Status(L.OptString(1, ""))
		}
		return 0
	})
	register("progress", func(L *lua.LState) int {
		if r.reporter != nil {
			r.reporter.Progress(L.CheckInt(1), L.CheckInt(2))
		}
		return 0
	})

	return lib
}

func typeCheck(pred func(lua.LValue) bool) lua.LGFunction {
	return func(L *lua.LState) int {
		L.Push(lua.LBool(pred(L.Get(1))))
		return 1
	}
}
