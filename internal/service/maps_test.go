package service

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeblew999/geobind/internal/mapgl"
	"github.com/joeblew999/geobind/internal/remote"
	"github.com/joeblew999/geobind/internal/styledoc"
)

func emptyCollection() map[string]any {
	return map[string]any{"type": "FeatureCollection", "features": []any{}}
}

func lineSpec(id, color string) BindingSpec {
	return BindingSpec{
		ID:   id,
		Data: DataRef{Inline: emptyCollection()},
		Line: &LayerSpec{Paint: map[string]any{"line-color": color}},
	}
}

func newService(t *testing.T) (*MapService, string) {
	t.Helper()
	dir := t.TempDir()
	l := newLoader(t, LoaderConfig{DataDir: dir})
	svc := NewMapService(dir, l)
	t.Cleanup(svc.Close)
	return svc, dir
}

func newSessionT(t *testing.T, specs ...BindingSpec) *Session {
	t.Helper()
	svc, _ := newService(t)
	sess, err := svc.Create(context.Background(), "main", mapgl.NewStyle("basemap"), specs)
	require.NoError(t, err)
	return sess
}

func attach(t *testing.T, sess *Session) chan remote.Command {
	t.Helper()
	_, ch := sess.Map().Attach()
	t.Cleanup(func() { sess.Map().Detach(ch) })
	return ch
}

func drain(ch chan remote.Command) []remote.Command {
	var out []remote.Command
	for {
		select {
		case c := <-ch:
			out = append(out, c)
		default:
			return out
		}
	}
}

func ops(cmds []remote.Command) []string {
	out := make([]string, len(cmds))
	for i, c := range cmds {
		out[i] = c.Op
	}
	return out
}

func TestCreateAndMount(t *testing.T) {
	sess := newSessionT(t, lineSpec("roads", "#000"))

	st, err := sess.Binding("roads")
	require.NoError(t, err)
	assert.True(t, st.Mounted)
	assert.Equal(t, []string{"roads-symbol", "roads-line", "roads-fill", "roads-fill-extrusion", "roads-circle"}, st.LayerIDs)

	layer, ok := sess.Map().GetLayer("roads-line")
	require.True(t, ok)
	assert.Equal(t, "visible", layer.Layout["visibility"])

	st, err = sess.Mount(context.Background(), BindingSpec{Data: DataRef{Inline: emptyCollection()}})
	require.NoError(t, err)
	assert.Regexp(t, `^geojson-[0-9a-f]{12}$`, st.Spec.ID)
	assert.Len(t, sess.Bindings(), 2)
}

func TestMountErrors(t *testing.T) {
	sess := newSessionT(t, lineSpec("roads", "#000"))
	ctx := context.Background()

	_, err := sess.Mount(ctx, lineSpec("roads", "#fff"))
	assert.ErrorIs(t, err, ErrExists)

	_, err = sess.Mount(ctx, BindingSpec{ID: "nodata"})
	assert.ErrorIs(t, err, ErrInvalid)

	bad := lineSpec("bad", "#000")
	bad.Line.On = map[string]string{"click": "explode"}
	_, err = sess.Mount(ctx, bad)
	assert.ErrorIs(t, err, ErrInvalid)

	bad.Line.On = map[string]string{"styledata": "log"}
	_, err = sess.Mount(ctx, bad)
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = sess.Mount(ctx, BindingSpec{ID: "gone", Data: DataRef{File: "missing.geojson"}})
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Len(t, sess.Bindings(), 1)
}

func TestMountFailureCleansUp(t *testing.T) {
	sess := newSessionT(t)

	spec := lineSpec("roads", "#000")
	spec.Before = "no-such-layer"
	_, err := sess.Mount(context.Background(), spec)
	require.Error(t, err)

	_, ok := sess.Map().GetSource("roads")
	assert.False(t, ok)
	assert.Empty(t, sess.Bindings())
}

func TestMountFailureKeepsBaseSource(t *testing.T) {
	svc, _ := newService(t)
	base := mapgl.NewStyle("basemap")
	base.Sources["roads"] = mapgl.Source{Type: mapgl.SourceTypeGeoJSON, Data: "https://example.com/roads.geojson"}
	sess, err := svc.Create(context.Background(), "main", base, nil)
	require.NoError(t, err)

	_, err = sess.Mount(context.Background(), lineSpec("roads", "#000"))
	require.ErrorIs(t, err, styledoc.ErrExists)

	_, ok := sess.Map().GetSource("roads")
	assert.True(t, ok, "base style source removed by failed mount")
	assert.Empty(t, sess.Bindings())
}

func TestUpdateKeepsPayload(t *testing.T) {
	sess := newSessionT(t, lineSpec("roads", "#000"))
	ch := attach(t, sess)

	_, err := sess.Update(context.Background(), "roads", lineSpec("ignored", "#fff"))
	require.NoError(t, err)

	cmds := drain(ch)
	require.Equal(t, []string{remote.OpSetPaintProperty}, ops(cmds))
	assert.Equal(t, "roads-line", cmds[0].ID)
	assert.Equal(t, "line-color", cmds[0].Key)
	assert.Equal(t, "#fff", cmds[0].Value)

	st, err := sess.Binding("roads")
	require.NoError(t, err)
	assert.Equal(t, "roads", st.Spec.ID)
}

func TestUpdateChangedData(t *testing.T) {
	sess := newSessionT(t, lineSpec("roads", "#000"))
	ch := attach(t, sess)

	spec := lineSpec("roads", "#000")
	spec.Data = DataRef{Inline: map[string]any{
		"type":     "Feature",
		"geometry": map[string]any{"type": "Point", "coordinates": []any{1.0, 2.0}},
	}}
	_, err := sess.Update(context.Background(), "roads", spec)
	require.NoError(t, err)

	cmds := drain(ch)
	require.Equal(t, []string{remote.OpSetData}, ops(cmds))
	assert.Len(t, cmds[0].Data.(*geojson.FeatureCollection).Features, 1)

	_, err = sess.Update(context.Background(), "missing", spec)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHandlersKeepIdentity(t *testing.T) {
	spec := BindingSpec{
		ID:     "pois",
		Data:   DataRef{Inline: emptyCollection()},
		Circle: &LayerSpec{Paint: map[string]any{"circle-radius": 4.0}, On: map[string]string{"click": ActionSelect}},
	}
	sess := newSessionT(t, spec)
	ch := attach(t, sess)

	next := spec
	next.Circle = &LayerSpec{Paint: map[string]any{"circle-radius": 6.0}, On: map[string]string{"click": ActionSelect}}
	_, err := sess.Update(context.Background(), "pois", next)
	require.NoError(t, err)
	assert.Equal(t, []string{remote.OpSetPaintProperty}, ops(drain(ch)))

	next.Circle = &LayerSpec{Paint: map[string]any{"circle-radius": 6.0}, On: map[string]string{"click": ActionLog}}
	_, err = sess.Update(context.Background(), "pois", next)
	require.NoError(t, err)
	assert.Equal(t, []string{remote.OpOff, remote.OpOn}, ops(drain(ch)))
}

func TestSelectAction(t *testing.T) {
	sess := newSessionT(t, BindingSpec{
		ID:     "pois",
		Data:   DataRef{Inline: emptyCollection()},
		Circle: &LayerSpec{Paint: map[string]any{"circle-radius": 4.0}, On: map[string]string{"click": ActionSelect}},
	})
	ch := attach(t, sess)

	sess.Dispatch(mapgl.Event{Kind: mapgl.EventClick, LayerID: "pois-circle", LngLat: orb.Point{13.4, 52.5}})
	sess.Dispatch(mapgl.Event{Kind: mapgl.EventClick, LayerID: "pois-line"})

	cmds := drain(ch)
	require.Equal(t, []string{remote.OpSignals}, ops(cmds))
	signals, ok := cmds[0].Value.(map[string]any)
	require.True(t, ok)
	selected := signals["selected"].(map[string]any)
	assert.Equal(t, "pois", selected["binding"])
	assert.Equal(t, "pois-circle", selected["layer"])
	assert.Equal(t, []float64{13.4, 52.5}, selected["lngLat"])
}

func TestCursorAction(t *testing.T) {
	sess := newSessionT(t, BindingSpec{
		ID:   "areas",
		Data: DataRef{Inline: emptyCollection()},
		Fill: &LayerSpec{
			Paint: map[string]any{"fill-color": "#0f0"},
			On:    map[string]string{"mouseenter": ActionCursor, "mouseleave": ActionCursor},
		},
	})
	ch := attach(t, sess)

	sess.Dispatch(mapgl.Event{Kind: mapgl.EventMouseEnter, LayerID: "areas-fill"})
	sess.Dispatch(mapgl.Event{Kind: mapgl.EventMouseLeave, LayerID: "areas-fill"})

	cmds := drain(ch)
	require.Equal(t, []string{remote.OpCursor, remote.OpCursor}, ops(cmds))
	assert.Equal(t, "pointer", cmds[0].Value)
	assert.Equal(t, "", cmds[1].Value)
}

func TestUnmount(t *testing.T) {
	sess := newSessionT(t, lineSpec("roads", "#000"))

	require.NoError(t, sess.Unmount("roads"))
	_, ok := sess.Map().GetSource("roads")
	assert.False(t, ok)
	_, ok = sess.Map().GetLayer("roads-line")
	assert.False(t, ok)

	assert.ErrorIs(t, sess.Unmount("roads"), ErrNotFound)
	_, err := sess.Binding("roads")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSessionApply(t *testing.T) {
	sess := newSessionT(t, lineSpec("a", "#000"), lineSpec("b", "#000"))
	ctx := context.Background()

	require.NoError(t, sess.Apply(ctx, []BindingSpec{lineSpec("b", "#fff"), lineSpec("c", "#000")}))

	var ids []string
	for _, st := range sess.Bindings() {
		ids = append(ids, st.Spec.ID)
	}
	assert.Equal(t, []string{"b", "c"}, ids)

	_, ok := sess.Map().GetSource("a")
	assert.False(t, ok)
	layer, ok := sess.Map().GetLayer("b-line")
	require.True(t, ok)
	assert.Equal(t, "#fff", layer.Paint["line-color"])

	assert.ErrorIs(t, sess.Apply(ctx, []BindingSpec{{Data: DataRef{URL: "x"}}}), ErrInvalid)
	assert.ErrorIs(t, sess.Apply(ctx, []BindingSpec{lineSpec("c", "#000"), lineSpec("c", "#000")}), ErrInvalid)
}

func TestResetStyleRebuilds(t *testing.T) {
	sess := newSessionT(t, lineSpec("roads", "#000"))

	require.NoError(t, sess.ResetStyle(mapgl.NewStyle("dark")))

	st, err := sess.Binding("roads")
	require.NoError(t, err)
	assert.Equal(t, 1, st.Rebuilds)
	assert.True(t, st.Mounted)
	assert.Contains(t, sess.Style().Sources, "roads")
	assert.Equal(t, "dark", sess.Base().Name)
	assert.NotContains(t, sess.Base().Sources, "roads")
}

func TestRefreshReloadsFile(t *testing.T) {
	svc, _ := newService(t)
	writeSource(t, svc.Loader(), "points.geojson", pointsJSON)

	spec := BindingSpec{ID: "pts", Data: DataRef{File: "points.geojson"}}
	sess, err := svc.Create(context.Background(), "main", nil, []BindingSpec{spec})
	require.NoError(t, err)
	ch := attach(t, sess)

	writeSource(t, svc.Loader(), "points.geojson", `{"type":"FeatureCollection","features":[]}`)

	_, err = sess.Update(context.Background(), "pts", spec)
	require.NoError(t, err)
	assert.Empty(t, drain(ch))

	_, err = sess.Refresh(context.Background(), "pts")
	require.NoError(t, err)
	cmds := drain(ch)
	require.Equal(t, []string{remote.OpSetData}, ops(cmds))
	assert.Empty(t, cmds[0].Data.(*geojson.FeatureCollection).Features)

	_, err = sess.Refresh(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRefreshNotifiesUnlocked(t *testing.T) {
	l := newLoader(t, LoaderConfig{DataDir: t.TempDir()})
	writeSource(t, l, "points.geojson", pointsJSON)

	var sess *Session
	changes := 0
	sess = newSession("main", nil, l, func() {
		// reading the session here deadlocks if the lock is still held
		sess.Bindings()
		changes++
	})
	t.Cleanup(func() { sess.close() })

	_, err := sess.Mount(context.Background(), BindingSpec{ID: "pts", Data: DataRef{File: "points.geojson"}})
	require.NoError(t, err)
	require.Equal(t, 1, changes)

	_, err = sess.Refresh(context.Background(), "pts")
	require.NoError(t, err)
	assert.Equal(t, 2, changes)

	_, err = sess.Refresh(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 2, changes)
}

func TestServiceLifecycle(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	sess, err := svc.Create(ctx, "", nil, nil)
	require.NoError(t, err)
	assert.Regexp(t, `^map-[0-9a-f]{8}$`, sess.ID())

	_, err = svc.Create(ctx, sess.ID(), nil, nil)
	assert.ErrorIs(t, err, ErrExists)

	require.Len(t, svc.List(), 1)

	require.NoError(t, svc.Delete(sess.ID()))
	assert.Nil(t, sess.Style())
	assert.ErrorIs(t, svc.Delete(sess.ID()), ErrNotFound)
	_, err = svc.Get(sess.ID())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestServiceApply(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	require.NoError(t, svc.Apply(ctx, "cfg", mapgl.NewStyle("light"), []BindingSpec{lineSpec("roads", "#000")}))
	sess, err := svc.Get("cfg")
	require.NoError(t, err)
	assert.Len(t, sess.Bindings(), 1)

	require.NoError(t, svc.Apply(ctx, "cfg", mapgl.NewStyle("dark"), []BindingSpec{lineSpec("roads", "#000")}))
	assert.Equal(t, "dark", sess.Base().Name)
	st, err := sess.Binding("roads")
	require.NoError(t, err)
	assert.Equal(t, 1, st.Rebuilds)
}

func TestPersistence(t *testing.T) {
	svc, dir := newService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, "main", mapgl.NewStyle("basemap"), []BindingSpec{lineSpec("roads", "#000")})
	require.NoError(t, err)
	sess, err := svc.Get("main")
	require.NoError(t, err)
	_, err = sess.Update(ctx, "roads", lineSpec("roads", "#f00"))
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "maps.json"))

	restored := NewMapService(dir, svc.Loader())
	defer restored.Close()

	list := restored.List()
	require.Len(t, list, 1)
	assert.Equal(t, MapInfo{ID: "main", Style: "basemap", Bindings: 1}, list[0])

	rs, err := restored.Get("main")
	require.NoError(t, err)
	layer, ok := rs.Map().GetLayer("roads-line")
	require.True(t, ok)
	assert.Equal(t, "#f00", layer.Paint["line-color"])
}
