package api

const dashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>nzgo Dashboard</title>
<style>
*,*::before,*::after{box-sizing:border-box;margin:0;padding:0}
:root,[data-theme="dark"]{
  --bg:#0f1117;--bg-card:#161b22;--bg-card-hover:#1c2129;
  --border:#30363d;--text:#e1e4e8;--text-muted:#8b949e;--text-dim:#484f58;
  --primary:#58a6ff;--green:#3fb950;--red:#f85149;--yellow:#d29922;
  --radius:8px;--radius-sm:4px;
}
[data-theme="light"]{
  --bg:#f6f8fa;--bg-card:#ffffff;
  --border:#d0d7de;--text:#1f2328;--text-muted:#656d76;--text-dim:#8b949e;
  --primary:#0969da;--green:#1a7f37;--red:#cf222e;--yellow:#9a6700;
}
body{font-family:-apple-system,BlinkMacSystemFont,"Segoe UI",Helvetica,Arial,sans-serif;background:var(--bg);color:var(--text);line-height:1.5;min-height:100vh}
a{color:var(--primary);text-decoration:none}
.container{max-width:1100px;margin:0 auto;padding:0 24px 48px}
header{background:var(--bg-card);border-bottom:1px solid var(--border);padding:12px 24px;position:sticky;top:0}
.header-inner{max-width:1100px;margin:0 auto;display:flex;align-items:center;gap:16px;flex-wrap:wrap}
.header-title{font-size:20px;font-weight:700}
.badge{display:inline-flex;align-items:center;gap:4px;padding:2px 10px;border-radius:12px;font-size:12px;font-weight:600;border:1px solid var(--border)}
.badge-healthy{color:var(--green);border-color:var(--green)}
.badge-unhealthy{color:var(--red);border-color:var(--red)}
.dot{width:8px;height:8px;border-radius:50%;display:inline-block}
.dot-green{background:var(--green)}.dot-red{background:var(--red)}.dot-gray{background:var(--text-dim)}
section{margin-top:24px}
h2{font-size:15px;color:var(--text-muted);text-transform:uppercase;letter-spacing:.04em;margin-bottom:12px}
table{width:100%;border-collapse:collapse;background:var(--bg-card);border:1px solid var(--border);border-radius:var(--radius);overflow:hidden}
th,td{text-align:left;padding:10px 14px;border-bottom:1px solid var(--border);font-size:13px}
tr:last-child td{border-bottom:none}
th{color:var(--text-muted);font-weight:600}
.empty{padding:24px;text-align:center;color:var(--text-muted)}
.links{margin-top:8px;font-size:13px}
</style>
</head>
<body>
<header>
  <div class="header-inner">
    <div class="header-title">nzgo</div>
    <span class="badge" id="overallBadge">loading…</span>
    <span style="margin-left:auto;font-size:13px;color:var(--text-muted)" id="uptime"></span>
  </div>
</header>
<div class="container">
  <section>
    <h2>Connection Profiles</h2>
    <table id="profileTable">
      <thead><tr><th></th><th>Profile</th><th>Host</th><th>Active</th><th>Idle</th><th>Waiting</th><th>Max</th><th>Exhausted</th></tr></thead>
      <tbody><tr><td colspan="8" class="empty">loading…</td></tr></tbody>
    </table>
    <div class="links"><a href="/metrics">/metrics</a> &middot; <a href="/status">/status</a> &middot; <a href="/health">/health</a></div>
  </section>
</div>
<script>
(function() {
  function g(id) { return document.getElementById(id); }
  function esc(s) { var d = document.createElement('div'); d.textContent = s == null ? '' : s; return d.innerHTML; }

  function render(profiles, health, status) {
    g('uptime').textContent = status ? 'uptime ' + Math.floor(status.uptime_seconds / 60) + 'm' : '';

    var overall = health && health.status === 'healthy';
    var badge = g('overallBadge');
    badge.textContent = overall ? 'healthy' : 'degraded';
    badge.className = 'badge ' + (overall ? 'badge-healthy' : 'badge-unhealthy');

    var tbody = document.querySelector('#profileTable tbody');
    if (!profiles.length) {
      tbody.innerHTML = '<tr><td colspan="8" class="empty">no profiles configured</td></tr>';
      return;
    }
    tbody.innerHTML = profiles.map(function(p) {
      var h = (health && health.profiles && health.profiles[p.name]) || { status: 'unknown' };
      var dotClass = h.status === 1 ? 'dot-green' : (h.status === 2 ? 'dot-red' : 'dot-gray');
      var s = p.stats || {};
      return '<tr>' +
        '<td><span class="dot ' + dotClass + '"></span></td>' +
        '<td>' + esc(p.name) + (p.paused ? ' <span class="badge">paused</span>' : '') + '</td>' +
        '<td>' + esc(p.host) + ':' + esc(p.port) + '</td>' +
        '<td>' + (s.active || 0) + '</td>' +
        '<td>' + (s.idle || 0) + '</td>' +
        '<td>' + (s.waiting || 0) + '</td>' +
        '<td>' + (s.max_connections || 0) + '</td>' +
        '<td>' + (s.pool_exhausted_total || 0) + '</td>' +
        '</tr>';
    }).join('');
  }

  function refresh() {
    Promise.all([
      fetch('/profiles').then(function(r) { return r.json(); }),
      fetch('/health').then(function(r) { return r.json(); }).catch(function() { return null; }),
      fetch('/status').then(function(r) { return r.json(); }).catch(function() { return null; })
    ]).then(function(results) {
      render(results[0] || [], results[1], results[2]);
    });
  }

  refresh();
  setInterval(refresh, 5000);
})();
</script>
</body>
</html>
`
