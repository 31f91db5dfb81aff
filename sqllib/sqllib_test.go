package sqllib_test

import (
	"strings"
	"sync"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yuku/dbcon/sqllib"
)

const textLibrary = `// Job queries
<SQL-NAME>
  pending_jobs
</SQL-NAME>
<SQL>
  SELECT id, name   -- oldest first
  FROM   jobs
  WHERE  done = false
  ORDER BY {0}
</SQL>

<sql-name>
hinted
</sql-name>
<sql>
  SELECT /*+ INDEX(j jobs_idx) */ id /* the id */ FROM jobs j
</sql>
// trailing comment
`

const xmlLibrary = `<?xml version="1.0" encoding="UTF-8"?>
<sqllib>
  <sql name="pending_jobs">
    SELECT id, name -- oldest first
    FROM jobs
    WHERE done = false
  </sql>
  <group>
    <sql name="by_owner">SELECT id FROM jobs WHERE owner = '{owner}' AND kind = '{kind}'</sql>
  </group>
</sqllib>
`

func TestParseText(t *testing.T) {
	lib, err := sqllib.Parse("jobs.sqllib", strings.NewReader(textLibrary))
	require.NoError(t, err)

	assert.Equal(t, "jobs.sqllib", lib.Name())
	assert.Equal(t, []string{"hinted", "pending_jobs"}, lib.Names())

	s, err := lib.Statement("pending_jobs")
	require.NoError(t, err)
	assert.Equal(t, "SELECT id, name FROM jobs WHERE done = false ORDER BY {0} ", s.SQL)

	s, err = lib.Statement("hinted")
	require.NoError(t, err)
	assert.Equal(t, "SELECT /*+ INDEX(j jobs_idx) */ id FROM jobs j ", s.SQL)

	q, err := lib.Query("pending_jobs", "name")
	require.NoError(t, err)
	assert.Equal(t, "SELECT id, name FROM jobs WHERE done = false ORDER BY name ", q)

	_, err = lib.Statement("missing")
	require.ErrorIs(t, err, sqllib.ErrStatementNotFound)
	assert.EqualError(t, err, "cannot find specified statement for key missing")
}

func TestParseXML(t *testing.T) {
	lib, err := sqllib.Parse("jobs.xml", strings.NewReader(xmlLibrary))
	require.NoError(t, err)
	assert.Equal(t, []string{"by_owner", "pending_jobs"}, lib.Names())

	q, err := lib.Query("pending_jobs")
	require.NoError(t, err)
	assert.Equal(t, "SELECT id, name FROM jobs WHERE done = false ", q)

	q, err = lib.Template("by_owner", map[string]any{"owner": "alice", "kind": "batch"})
	require.NoError(t, err)
	assert.Equal(t, "SELECT id FROM jobs WHERE owner = 'alice' AND kind = 'batch' ", q)

	_, err = sqllib.Parse("broken.xml", strings.NewReader(`<?xml version="1.0"?><sqllib><sql name="a">`))
	require.Error(t, err)
}

func TestTemplater(t *testing.T) {
	t.Run("positional", func(t *testing.T) {
		assert.Equal(t, "hello there world !", sqllib.Format("{0} {1} {2} {3}", "hello", "there", "world", "!"))
	})

	t.Run("positional in batches", func(t *testing.T) {
		tpl := sqllib.NewTemplater("{0} {1} {2} {3}")
		tpl.Add("hello", "there")
		tpl.Add("world", "!")
		assert.Equal(t, "hello there world !", tpl.Generate())

		tpl.Clear()
		assert.Equal(t, "{0} {1} {2} {3}", tpl.Generate())
	})

	t.Run("named", func(t *testing.T) {
		got := sqllib.Template("SELECT * FROM {table} WHERE id = {id}", map[string]any{"table": "jobs", "id": 7})
		assert.Equal(t, "SELECT * FROM jobs WHERE id = 7", got)
	})

	t.Run("unbound placeholders stay", func(t *testing.T) {
		tpl := sqllib.NewTemplater("{a} {b}").Set("a", 1)
		assert.Equal(t, "1 {b}", tpl.Generate())
		assert.Equal(t, "{a} {b}", tpl.Template())
	})
}

func TestCache(t *testing.T) {
	fsys := fstest.MapFS{
		"sql/jobs.sqllib": {Data: []byte(textLibrary)},
		"sql/jobs.xml":    {Data: []byte(xmlLibrary)},
	}
	c := sqllib.NewCache(sqllib.WithFS(fsys))

	lib1, err := c.Get("sql/jobs.sqllib")
	require.NoError(t, err)
	lib2, err := c.Get("sql/jobs.sqllib")
	require.NoError(t, err)
	assert.Same(t, lib1, lib2)

	_, err = c.Get("sql/jobs.xml")
	require.NoError(t, err)
	assert.Equal(t, []string{"sql/jobs.sqllib", "sql/jobs.xml"}, c.Locations())

	_, err = c.Get("sql/missing.sqllib")
	require.Error(t, err)

	fsys["sql/jobs.sqllib"] = &fstest.MapFile{Data: []byte("<SQL-NAME>\nonly\n</SQL-NAME>\n<SQL>\nSELECT 1\n</SQL>\n")}
	lib3, err := c.Reload("sql/jobs.sqllib")
	require.NoError(t, err)
	assert.NotSame(t, lib1, lib3)
	assert.Equal(t, []string{"only"}, lib3.Names())

	c.Forget("sql/jobs.xml")
	assert.Equal(t, []string{"sql/jobs.sqllib"}, c.Locations())

	c.Clear()
	assert.Empty(t, c.Locations())

	lib4, err := c.Load("inline", strings.NewReader(xmlLibrary))
	require.NoError(t, err)
	lib5, err := c.Load("inline", strings.NewReader(textLibrary))
	require.NoError(t, err)
	assert.Same(t, lib4, lib5)
}

func TestCacheConcurrentGet(t *testing.T) {
	c := sqllib.NewCache(sqllib.WithFS(fstest.MapFS{
		"jobs.sqllib": {Data: []byte(textLibrary)},
	}))

	var wg sync.WaitGroup
	libs := make([]*sqllib.Library, 16)
	for i := range libs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lib, err := c.Get("jobs.sqllib")
			if err != nil {
				t.Errorf("failed to get library: %v", err)
				return
			}
			libs[i] = lib
		}()
	}
	wg.Wait()

	for _, lib := range libs {
		assert.Same(t, libs[0], lib)
	}
}
