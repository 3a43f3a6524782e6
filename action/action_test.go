package action

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lesismal/vrequest"
)

type testBackend struct {
	plugin *vrequest.Plugin
	fail   bool
	calls  int
}

func (b *testBackend) Execute(vr *vrequest.VRequest, f *Frame) vrequest.Result {
	vr.HandleIndirect(b.plugin)
	return vrequest.GoOn
}

func (b *testBackend) HandleRequestBody(vr *vrequest.VRequest, p *vrequest.Plugin) vrequest.Result {
	b.calls++
	if b.fail {
		vr.BackendDead()
		return vrequest.WaitForEvent
	}
	vr.Out().StealAll(vr.In())
	if !vr.In().IsClosed() {
		return vrequest.WaitForEvent
	}
	if vr.Response.Status == 0 {
		vr.Out().Close()
		vr.Response.Status = 200
		vr.HandleResponseHeaders()
	}
	return vrequest.GoOn
}

func (b *testBackend) HandleVRClose(vr *vrequest.VRequest, p *vrequest.Plugin) {}

func newBackend(t *testing.T, plugins *vrequest.Plugins, name string, fail bool) *testBackend {
	b := &testBackend{fail: fail}
	p, err := plugins.Register(name, b)
	require.NoError(t, err)
	b.plugin = p
	return b
}

func runRequest(t *testing.T, plugins *vrequest.Plugins, root Action, method, path, body string) *vrequest.VRequest {
	t.Helper()
	q := vrequest.NewJobQueue(0, nil)
	vr := vrequest.New(q, &vrequest.HandlerFuncs{}, vrequest.Options{
		Plugins: plugins,
		Actions: NewStack(root),
	})
	vr.Request.Method = method
	vr.Request.Path = path
	require.NoError(t, vr.InRaw().AppendString(body))
	vr.InRaw().Close()
	vr.HandleRequestHeaders()
	for i := 0; q.Len() > 0; i++ {
		require.Less(t, i, 100)
		q.Run()
	}
	return vr
}

func TestListAndWait(t *testing.T) {
	var trace []string
	waited := false
	root := List{
		Func(func(vr *vrequest.VRequest) vrequest.Result {
			trace = append(trace, "a")
			return vrequest.GoOn
		}),
		List{
			Func(func(vr *vrequest.VRequest) vrequest.Result {
				trace = append(trace, "b")
				if !waited {
					waited = true
					return vrequest.WaitForEvent
				}
				return vrequest.GoOn
			}),
		},
		Setting{Name: "x", Value: 1},
		Func(func(vr *vrequest.VRequest) vrequest.Result {
			trace = append(trace, "c")
			return vrequest.GoOn
		}),
	}
	s := NewStack(root)
	q := vrequest.NewJobQueue(0, nil)
	vr := vrequest.New(q, &vrequest.HandlerFuncs{}, vrequest.Options{})

	require.Equal(t, vrequest.WaitForEvent, s.Execute(vr))
	require.Equal(t, []string{"a", "b"}, trace)
	require.Equal(t, vrequest.GoOn, s.Execute(vr))
	require.Equal(t, []string{"a", "b", "b", "c"}, trace)
	v, _ := vr.Option("x")
	require.Equal(t, 1, v)
	require.Zero(t, s.Depth())

	s.Reset(vr)
	require.Equal(t, 1, s.Depth())
}

func TestCond(t *testing.T) {
	var got string
	root := &Cond{
		Check: func(vr *vrequest.VRequest) bool { return vr.Request.Method == "POST" },
		Then:  Func(func(vr *vrequest.VRequest) vrequest.Result { got = "then"; return vrequest.GoOn }),
		Else:  Func(func(vr *vrequest.VRequest) vrequest.Result { got = "else"; return vrequest.GoOn }),
	}
	vr := runRequest(t, nil, root, "GET", "/", "")
	require.Equal(t, "else", got)
	require.Equal(t, 404, vr.Response.Status)
	runRequest(t, nil, root, "POST", "/", "")
	require.Equal(t, "then", got)
}

func TestBalancerFallback(t *testing.T) {
	plugins := vrequest.NewPlugins()
	dead := newBackend(t, plugins, "dead", true)
	alive := newBackend(t, plugins, "alive", false)

	var faults []int
	bal := NewBalancer(dead, alive)
	bal.OnFault = func(vr *vrequest.VRequest, backend int, kind vrequest.BackendError) {
		require.Equal(t, vrequest.BackendDead, kind)
		faults = append(faults, backend)
	}

	vr := runRequest(t, plugins, List{bal, Header{Name: "X-Backend", Value: "ok"}}, "POST", "/", "payload")
	require.Equal(t, vrequest.StateWriteContent, vr.State())
	require.Same(t, alive.plugin, vr.Backend())
	require.Equal(t, []int{0}, faults)
	require.Equal(t, 1, dead.calls)
	require.Equal(t, "ok", vr.Response.Header.Get("X-Backend"))

	b, err := vr.OutRaw().Bytes()
	require.NoError(t, err)
	require.Equal(t, "payload", string(b))
}

func TestBalancerGivesUp(t *testing.T) {
	plugins := vrequest.NewPlugins()
	a := newBackend(t, plugins, "a", true)
	b := newBackend(t, plugins, "b", true)

	vr := runRequest(t, plugins, NewBalancer(a, b), "GET", "/", "")
	require.Equal(t, vrequest.StateError, vr.State())
	require.ErrorIs(t, vr.Err(), ErrNoBackendLeft)
	require.Equal(t, 1, a.calls)
	require.Equal(t, 1, b.calls)
}

func TestBackendFaultWithoutBalancer(t *testing.T) {
	plugins := vrequest.NewPlugins()
	a := newBackend(t, plugins, "a", true)

	vr := runRequest(t, plugins, a, "GET", "/", "")
	require.Equal(t, vrequest.StateError, vr.State())
	require.ErrorIs(t, vr.Err(), vrequest.ErrBackendFailed)
}

func TestRouter(t *testing.T) {
	var user string
	r := NewRouter()
	r.GET("/users/:name", Func(func(vr *vrequest.VRequest) vrequest.Result {
		user, _ = vr.Env.Get(RouteParamPrefix + "name")
		return Status(204).Execute(vr, nil)
	}))
	r.GET("/docs/", Status(200))
	r.NotFound = Status(410)

	vr := runRequest(t, nil, r, "GET", "/users/gopher", "")
	require.Equal(t, "gopher", user)
	require.Equal(t, 204, vr.Response.Status)

	vr = runRequest(t, nil, r, "GET", "/docs", "")
	require.Equal(t, 301, vr.Response.Status)
	require.Equal(t, "/docs/", vr.Response.Header.Get("Location"))

	vr = runRequest(t, nil, r, "GET", "/missing", "")
	require.Equal(t, 410, vr.Response.Status)

	r.NotFound = nil
	vr = runRequest(t, nil, r, "DELETE", "/docs/", "")
	require.Equal(t, 404, vr.Response.Status)
}

func TestDocRoot(t *testing.T) {
	vr := runRequest(t, nil, List{DocRoot("/srv/www"), Status(200)}, "GET", "/a/../b/c.txt", "")
	require.Equal(t, "/b/c.txt", vr.Physical.RelPath)
	require.Equal(t, "/srv/www/b/c.txt", vr.Physical.Path)
	require.Equal(t, "/srv/www", vr.Physical.DocRoot)
}
