package guestjs

import (
	"github.com/dop251/goja"

	"github.com/gaspardpetit/gamebridge/internal/legacy"
)

var readyStates = map[string]legacy.ReadyState{
	"UNSENT":           legacy.Unsent,
	"OPENED":           legacy.Opened,
	"HEADERS_RECEIVED": legacy.HeadersReceived,
	"LOADING":          legacy.Loading,
	"DONE":             legacy.Done,
}

var handlerProperties = map[string]string{
	"onreadystatechange": "readystatechange",
	"onload":             "load",
	"onerror":            "error",
	"onError":            "Error",
}

// settingProperties are forwarded with the request; the values are the defaults.
var settingProperties = map[string]any{
	"withCredentials": false,
	"responseType":    "",
	"timeout":         0,
}

func (r *Runtime) installXMLHttpRequest() {
	vm := r.vm
	ctor := vm.ToValue(func(call goja.ConstructorCall) *goja.Object {
		r.bindRequest(call.This, r.factory.New())
		return nil
	}).ToObject(vm)
	for name, st := range readyStates {
		ctor.Set(name, int(st))
	}
	vm.Set("XMLHttpRequest", ctor)
}

func (r *Runtime) bindRequest(obj *goja.Object, req legacy.HTTPRequest) {
	vm := r.vm
	check := func(err error) {
		if err != nil {
			panic(vm.NewGoError(err))
		}
	}
	listener := func(fn goja.Callable) legacy.Listener {
		return func(ev legacy.Event, err error) {
			e := vm.NewObject()
			e.Set("type", ev.Type)
			e.Set("target", obj)
			if err != nil {
				e.Set("error", err.Error())
				r.call(fn, obj, e, vm.ToValue(err.Error()))
				return
			}
			r.call(fn, obj, e)
		}
	}

	for name, st := range readyStates {
		obj.Set(name, int(st))
	}
	obj.Set("open", func(call goja.FunctionCall) goja.Value {
		check(req.Open(call.Argument(0).String(), call.Argument(1).String()))
		return goja.Undefined()
	})
	obj.Set("setRequestHeader", func(call goja.FunctionCall) goja.Value {
		check(req.SetRequestHeader(call.Argument(0).String(), call.Argument(1).String()))
		return goja.Undefined()
	})
	obj.Set("send", func(call goja.FunctionCall) goja.Value {
		var body *string
		if v := call.Argument(0); !goja.IsUndefined(v) && !goja.IsNull(v) {
			s := v.String()
			body = &s
		}
		check(req.Send(body))
		return goja.Undefined()
	})
	obj.Set("addEventListener", func(call goja.FunctionCall) goja.Value {
		if fn, ok := goja.AssertFunction(call.Argument(1)); ok {
			req.AddEventListener(call.Argument(0).String(), listener(fn))
		}
		return goja.Undefined()
	})

	getter := func(get func() any) goja.Value {
		return vm.ToValue(func(goja.FunctionCall) goja.Value { return vm.ToValue(get()) })
	}
	obj.DefineAccessorProperty("readyState", getter(func() any { return int(req.ReadyState()) }), nil, goja.FLAG_FALSE, goja.FLAG_TRUE)
	obj.DefineAccessorProperty("status", getter(func() any { return req.Status() }), nil, goja.FLAG_FALSE, goja.FLAG_TRUE)
	obj.DefineAccessorProperty("responseText", getter(func() any { return req.ResponseText() }), nil, goja.FLAG_FALSE, goja.FLAG_TRUE)

	for prop, def := range settingProperties {
		get := vm.ToValue(func(goja.FunctionCall) goja.Value {
			if v := req.Setting(prop); v != nil {
				return vm.ToValue(v)
			}
			return vm.ToValue(def)
		})
		set := vm.ToValue(func(call goja.FunctionCall) goja.Value {
			v := call.Argument(0)
			if goja.IsUndefined(v) || goja.IsNull(v) {
				req.SetSetting(prop, nil)
				return goja.Undefined()
			}
			switch def.(type) {
			case bool:
				req.SetSetting(prop, v.ToBoolean())
			case string:
				req.SetSetting(prop, v.String())
			default:
				req.SetSetting(prop, v.ToInteger())
			}
			return goja.Undefined()
		})
		obj.DefineAccessorProperty(prop, get, set, goja.FLAG_FALSE, goja.FLAG_TRUE)
	}

	for prop, event := range handlerProperties {
		current := goja.Null()
		get := vm.ToValue(func(goja.FunctionCall) goja.Value { return current })
		set := vm.ToValue(func(call goja.FunctionCall) goja.Value {
			v := call.Argument(0)
			fn, ok := goja.AssertFunction(v)
			if !ok {
				current = goja.Null()
				req.SetHandler(event, nil)
				return goja.Undefined()
			}
			current = v
			req.SetHandler(event, listener(fn))
			return goja.Undefined()
		})
		obj.DefineAccessorProperty(prop, get, set, goja.FLAG_FALSE, goja.FLAG_TRUE)
	}
}
