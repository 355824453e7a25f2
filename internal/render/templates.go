package render

// layoutTemplate is the full page chrome. Every element the navigation
// layer looks up by id lives here; view content goes into #spa-content.
const layoutTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <title>{{.Title}}</title>
  <link rel="stylesheet" href="/assets/panel.css">
  {{- range .Styles}}
  <link rel="stylesheet" href="{{.}}">
  {{- end}}
</head>
<body>
  <div id="loading-indicator" class="loading-bar hidden"></div>
  <div id="loading-overlay" class="loading-overlay hidden"></div>
  <div id="error-container" class="error-banner hidden">
    <span id="error-message"></span>
    <button id="error-retry" type="button">Retry</button>
    <button id="error-dismiss" type="button" aria-label="Dismiss">&times;</button>
  </div>
  <header id="topbar" class="topbar">
    <span class="brand">{{.Brand}}</span>
    <div class="dropdown" data-toggle="dropdown" aria-expanded="false">
      <button type="button">{{.Account.Username}}</button>
      <ul class="dropdown-menu">
        <li><a href="/account">Account</a></li>
        <li><a href="/help">Help</a></li>
        <li><a href="/auth/logout" data-no-spa>Log out</a></li>
      </ul>
    </div>
  </header>
  <aside id="sidebar" class="sidebar">
    <nav>
      <span id="nav-indicator" class="nav-indicator"></span>
      {{- range .Nav}}
      <a class="nav-link{{if .Active}} active{{end}}" href="{{.Href}}"{{if .Active}} aria-current="page"{{end}}>{{.Label}}</a>
      {{- end}}
    </nav>
  </aside>
  <main id="spa-content" class="content">
{{.Content}}
  </main>
  <footer id="footer" class="footer">{{.Brand}}</footer>
  <script src="/assets/panel.js"></script>
  {{- range .Scripts}}
  <script src="{{.}}"></script>
  {{- end}}
</body>
</html>`

// viewTemplates holds one named template per view.
const viewTemplates = `
{{define "dashboard"}}
<section class="dashboard">
  <h1>Dashboard</h1>
  <div class="stats">
    <div class="stat"><span class="value">{{len .Servers}}</span> servers</div>
    <div class="stat"><span class="value">{{running .Servers}}</span> running</div>
    <div class="stat"><span class="value">{{len .Nodes}}</span> nodes</div>
  </div>
  <ul class="recent">
    {{- range .Servers}}
    <li><a href="/servers/{{.ID}}">{{.Name}}</a> <span class="status {{.Status}}">{{.Status}}</span></li>
    {{- end}}
  </ul>
</section>
{{end}}

{{define "servers"}}
<section class="servers">
  <h1>Servers</h1>
  <div id="server-filters" data-persist="forms">
    <input type="search" name="q" placeholder="Filter servers">
    <select name="status">
      <option value="">Any status</option>
      <option value="running">Running</option>
      <option value="stopped">Stopped</option>
    </select>
  </div>
  <table>
    <thead><tr><th>Name</th><th>Node</th><th>Status</th><th>Memory</th></tr></thead>
    <tbody>
      {{- range .Servers}}
      <tr><td><a href="/servers/{{.ID}}">{{.Name}}</a></td><td>{{.Node}}</td><td>{{.Status}}</td><td>{{.MemoryMB}} MB</td></tr>
      {{- end}}
    </tbody>
  </table>
</section>
{{end}}

{{define "server"}}
<section class="server">
  <h1>{{.Server.Name}}</h1>
  <dl>
    <dt>Node</dt><dd>{{.Server.Node}}</dd>
    <dt>Status</dt><dd>{{.Server.Status}}</dd>
    <dt>Memory</dt><dd>{{.Server.MemoryMB}} MB</dd>
  </dl>
  <a class="btn" href="/servers">Back to servers</a>
</section>
{{end}}

{{define "settings"}}
<section class="settings">
  <h1>Settings</h1>
  <form id="settings-form" method="post" action="/settings">
    <label>Panel name <input name="panel_name" value="{{.Brand}}"></label>
    <label><input type="checkbox" name="registration"> Allow registration</label>
    <button class="btn" type="submit">Save</button>
  </form>
</section>
{{end}}

{{define "admin/servers"}}
<section class="admin-servers">
  <h1>Manage servers</h1>
  <a class="btn" role="button" href="/admin/servers/new">Create server</a>
  <ul>
    {{- range .Servers}}
    <li>{{.Name}} on {{.Node}}</li>
    {{- end}}
  </ul>
</section>
{{end}}

{{define "admin/nodes"}}
<section class="admin-nodes">
  <h1>Nodes</h1>
  <ul>
    {{- range .Nodes}}
    <li>{{.Name}} ({{.Address}}) {{if .Online}}online{{else}}offline{{end}}</li>
    {{- end}}
  </ul>
</section>
{{end}}

{{define "account"}}
<section class="account">
  <h1>Account</h1>
  <p>Signed in as <strong>{{.Account.Username}}</strong> ({{.Account.Email}})</p>
  {{if .Account.Admin}}<p class="badge">Administrator</p>{{end}}
</section>
{{end}}

{{define "notfound"}}
<section class="not-found">
  <h1>Page not found</h1>
  <p>Nothing lives at <code>{{.Path}}</code>.</p>
  <a class="btn" href="/dashboard">Go to the dashboard</a>
</section>
{{end}}
`

// helpMarkdown is the source of the help view.
const helpMarkdown = "# Help\n\n" +
	"Airlink manages game servers across one or more nodes.\n\n" +
	"## Servers\n\n" +
	"Open **Servers** in the sidebar to list every server. The filter box keeps its value while you move between pages.\n\n" +
	"## Nodes\n\n" +
	"Administrators register nodes under **Admin > Nodes**. A node must be online before servers can be created on it.\n\n" +
	"| Shortcut | Action |\n" +
	"| --- | --- |\n" +
	"| Ctrl+click | Open a page in a new tab |\n" +
	"| Back | Return to the previous page |\n\n" +
	"## Configuration\n\n" +
	"Preloading is tuned in `panel.yml`:\n\n" +
	"```yaml\n" +
	"preload:\n" +
	"  enabled: true\n" +
	"  hover_delay_ms: 100\n" +
	"  exclude:\n" +
	"    - /auth/**\n" +
	"```\n"
