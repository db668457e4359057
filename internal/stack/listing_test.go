package stack

import (
	"errors"
	"reflect"
	"testing"

	"github.com/danmuck/stackwire/internal/protocol"
	"github.com/danmuck/stackwire/internal/testutil/stackserver"
	"github.com/danmuck/stackwire/internal/testutil/testlog"
	"github.com/danmuck/stackwire/internal/value"
)

func TestListGlobalsAcrossPages(t *testing.T) {
	testlog.Start(t)
	c, srv := openTest(t, stackserver.Options{PageLimit: 2}, 0)
	srv.AddGlobal("accounts", value.Desc{Type: value.TypeTable, Fields: []value.Field{{Name: "id", Type: value.TypeUint64}}})
	srv.AddGlobal("counter", value.Desc{Type: value.TypeInt64})
	srv.AddGlobal("labels", value.Desc{Type: value.TypeText.ArrayOf()})

	names, err := c.ListGlobals()
	if err != nil {
		t.Fatalf("list globals: %v", err)
	}
	if want := []string{"accounts", "counter", "labels"}; !reflect.DeepEqual(names, want) {
		t.Fatalf("names=%v want %v", names, want)
	}
	if n := countRequests(srv, protocol.CmdListGlobals); n != 2 {
		t.Fatalf("listing took %d pages, want 2", n)
	}
	if c.State() != StateIdle {
		t.Fatalf("state=%s", c.State())
	}
}

func TestListingFillsFrames(t *testing.T) {
	testlog.Start(t)
	c, srv := openTest(t, stackserver.Options{FrameSize: protocol.MinFrameSize}, protocol.MinFrameSize)
	var want []string
	for i := 0; i < 60; i++ {
		name := "global_with_a_rather_long_name_" + string(rune('a'+i%26)) + string(rune('a'+i/26))
		srv.AddGlobal(name, value.Desc{Type: value.TypeBool})
		want = append(want, name)
	}
	names, err := c.ListGlobals()
	if err != nil {
		t.Fatalf("list globals: %v", err)
	}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("got %d names, want %d", len(names), len(want))
	}
	if n := countRequests(srv, protocol.CmdListGlobals); n < 2 {
		t.Fatalf("expected several pages, got %d", n)
	}
}

func TestPageEchoMismatch(t *testing.T) {
	tests := []struct {
		name  string
		fault stackserver.Fault
	}{
		{"index", stackserver.FaultPageIndex},
		{"count", stackserver.FaultPageCount},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			testlog.Start(t)
			c, srv := openTest(t, stackserver.Options{PageLimit: 2}, 0)
			for _, name := range []string{"a", "b", "c", "d", "e"} {
				srv.AddGlobal(name, value.Desc{Type: value.TypeInt64})
			}
			srv.InjectFault(tc.fault)
			if _, err := c.ListGlobals(); !errors.Is(err, protocol.ErrGeneralError) {
				t.Fatalf("list err=%v, want general error", err)
			}
			if c.State() != StateIdle {
				t.Fatalf("state=%s after page mismatch", c.State())
			}
			names, err := c.ListGlobals()
			if err != nil || len(names) != 5 {
				t.Fatalf("relisting: names=%v err=%v", names, err)
			}
		})
	}
}

func TestEmptyListing(t *testing.T) {
	testlog.Start(t)
	c, srv := openTest(t, stackserver.Options{}, 0)
	names, err := c.ListGlobals()
	if err != nil {
		t.Fatalf("list globals: %v", err)
	}
	if len(names) != 0 {
		t.Fatalf("names=%v", names)
	}
	if n := countRequests(srv, protocol.CmdListGlobals); n != 1 {
		t.Fatalf("empty listing took %d requests", n)
	}
}

func TestListProcedures(t *testing.T) {
	testlog.Start(t)
	c, _ := openTest(t, stackserver.Options{PageLimit: 1}, 0)
	names, err := c.ListProcedures()
	if err != nil {
		t.Fatalf("list procedures: %v", err)
	}
	if want := []string{"double", "fail", "repeat"}; !reflect.DeepEqual(names, want) {
		t.Fatalf("names=%v want %v", names, want)
	}
}

func TestDescribeGlobal(t *testing.T) {
	testlog.Start(t)
	c, srv := openTest(t, stackserver.Options{PageLimit: 2}, 0)
	table := value.Desc{Type: value.TypeTable, Fields: []value.Field{
		{Name: "id", Type: value.TypeUint64},
		{Name: "name", Type: value.TypeText},
		{Name: "scores", Type: value.TypeReal.ArrayOf()},
		{Name: "joined", Type: value.TypeDateTime},
		{Name: "active", Type: value.TypeBool},
	}}
	srv.AddGlobal("people", table)
	srv.AddGlobal("counter", value.Desc{Type: value.TypeInt64})

	got, err := c.DescribeGlobal("people")
	if err != nil {
		t.Fatalf("describe people: %v", err)
	}
	if !reflect.DeepEqual(got, table) {
		t.Fatalf("people=%v want %v", got, table)
	}
	got, err = c.DescribeGlobal("counter")
	if err != nil {
		t.Fatalf("describe counter: %v", err)
	}
	if got.Type != value.TypeInt64 || len(got.Fields) != 0 {
		t.Fatalf("counter=%v", got)
	}
	if _, err := c.DescribeGlobal("nobody"); !errors.Is(err, protocol.ErrInvalidArgs) {
		t.Fatalf("unknown global err=%v", err)
	}
}

func TestDescribeProcedureUsesCache(t *testing.T) {
	testlog.Start(t)
	c, srv := openTest(t, stackserver.Options{PageLimit: 1}, 0)

	p, err := c.DescribeProcedure("repeat")
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	if p.Return.Type != value.TypeText || len(p.Params) != 2 ||
		p.Params[0].Type != value.TypeText || p.Params[1].Type != value.TypeUint32 {
		t.Fatalf("repeat=%+v", p)
	}
	pages := countRequests(srv, protocol.CmdDescribeProcParams)
	if pages != 3 {
		t.Fatalf("description took %d pages, want 3", pages)
	}
	if _, err := c.DescribeProcedure("repeat"); err != nil {
		t.Fatalf("cached describe: %v", err)
	}
	if n := countRequests(srv, protocol.CmdDescribeProcParams); n != pages {
		t.Fatalf("cache miss: %d requests", n)
	}
	c.ForgetProcedure("repeat")
	if _, err := c.DescribeProcedure("repeat"); err != nil {
		t.Fatalf("describe after forget: %v", err)
	}
	if n := countRequests(srv, protocol.CmdDescribeProcParams); n != 2*pages {
		t.Fatalf("forget did not evict: %d requests", n)
	}

	if _, err := c.DescribeProcedure("missing"); !errors.Is(err, protocol.ErrProcNotFound) {
		t.Fatalf("missing err=%v", err)
	}
}

func TestDescribeProcedureTableParams(t *testing.T) {
	testlog.Start(t)
	c, srv := openTest(t, stackserver.Options{}, 0)
	rows := value.Desc{Type: value.TypeTable, Fields: []value.Field{
		{Name: "k", Type: value.TypeText},
		{Name: "v", Type: value.TypeInt16},
	}}
	srv.AddProcedure(stackserver.Procedure{
		Name:   "count_rows",
		Return: value.Desc{Type: value.TypeUint64},
		Params: []value.Desc{rows},
		Fn: func(args []value.Value) (value.Value, error) {
			return value.Uint64(uint64(len(args[0].Table().Rows))), nil
		},
	})
	p, err := c.DescribeProcedure("count_rows")
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	if !reflect.DeepEqual(p.Params, []value.Desc{rows}) {
		t.Fatalf("params=%v", p.Params)
	}

	tbl := &value.Table{Fields: rows.Fields}
	for i := 0; i < 4; i++ {
		v := mustValue(t)(value.Int(value.TypeInt16, int64(i)))
		tbl.Rows = append(tbl.Rows, []value.Value{value.Text("key"), v})
	}
	got, err := c.Call("count_rows", mustValue(t)(value.TableOf(tbl)))
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if n, _ := got.AsUint(); n != 4 {
		t.Fatalf("count_rows=%v", got)
	}
}
