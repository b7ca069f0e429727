package api

const dashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>mysqlbouncer Dashboard</title>
<style>
*,*::before,*::after{box-sizing:border-box;margin:0;padding:0}
:root,[data-theme="dark"]{
  --bg:#0f1117;--bg-card:#161b22;--bg-card-hover:#1c2129;--bg-input:#0d1117;
  --border:#30363d;--text:#e1e4e8;--text-muted:#8b949e;--text-dim:#484f58;
  --primary:#58a6ff;--primary-hover:#79b8ff;
  --green:#3fb950;--red:#f85149;--yellow:#d29922;--orange:#db6d28;
  --radius:8px;--radius-sm:4px;
}
[data-theme="light"]{
  --bg:#f6f8fa;--bg-card:#ffffff;--bg-card-hover:#f3f4f6;--bg-input:#f0f1f3;
  --border:#d0d7de;--text:#1f2328;--text-muted:#656d76;--text-dim:#8b949e;
  --primary:#0969da;--primary-hover:#0550ae;
  --green:#1a7f37;--red:#cf222e;--yellow:#9a6700;--orange:#bc4c00;
}
body{font-family:-apple-system,BlinkMacSystemFont,"Segoe UI",Helvetica,Arial,sans-serif;background:var(--bg);color:var(--text);line-height:1.5;min-height:100vh}
a{color:var(--primary);text-decoration:none}
button{cursor:pointer;font-family:inherit;font-size:inherit}
.container{max-width:1200px;margin:0 auto;padding:0 24px 48px}
header{background:var(--bg-card);border-bottom:1px solid var(--border);padding:12px 24px;position:sticky;top:0;z-index:100}
.header-inner{max-width:1200px;margin:0 auto;display:flex;align-items:center;gap:16px;flex-wrap:wrap}
.header-title{font-size:20px;font-weight:700}
.header-badges{display:flex;gap:8px;align-items:center;margin-left:auto}
.badge{display:inline-flex;align-items:center;gap:4px;padding:2px 10px;border-radius:12px;font-size:12px;font-weight:600;border:1px solid var(--border)}
.badge-healthy{color:var(--green);border-color:var(--green)}
.badge-unhealthy{color:var(--red);border-color:var(--red)}
.dot{width:8px;height:8px;border-radius:50%;display:inline-block}
.dot-green{background:var(--green)}.dot-red{background:var(--red)}.dot-gray{background:var(--text-dim)}
.refresh-controls{display:flex;align-items:center;gap:8px}
.refresh-controls label{font-size:13px;color:var(--text-muted)}
.refresh-controls select{background:var(--bg-input);color:var(--text);border:1px solid var(--border);border-radius:var(--radius-sm);padding:2px 6px;font-size:13px}
.summary{display:grid;grid-template-columns:repeat(4,1fr);gap:16px;margin:24px 0}
.card{background:var(--bg-card);border:1px solid var(--border);border-radius:var(--radius);padding:20px}
.card-label{font-size:12px;text-transform:uppercase;letter-spacing:.5px;color:var(--text-muted);margin-bottom:4px}
.card-value{font-size:32px;font-weight:700;line-height:1.2}
.card-value.danger{color:var(--red)}
.card.danger-card{border-color:var(--red)}
.toolbar{display:flex;align-items:center;gap:12px;margin-bottom:16px;flex-wrap:wrap}
.toolbar .search{flex:1;min-width:200px;background:var(--bg-input);color:var(--text);border:1px solid var(--border);border-radius:var(--radius);padding:8px 12px;font-size:14px;outline:none}
.btn{display:inline-flex;align-items:center;gap:6px;padding:8px 16px;border-radius:var(--radius);font-size:14px;font-weight:500;border:1px solid var(--border);background:var(--bg-card);color:var(--text);transition:.15s}
.btn:hover{background:var(--bg-card-hover)}
.btn-primary{background:var(--primary);border-color:var(--primary);color:#fff}
.btn-primary:hover{background:var(--primary-hover);border-color:var(--primary-hover)}
.btn-danger{color:var(--red);border-color:var(--red)}
.btn-danger:hover{background:rgba(248,81,73,.15)}
.btn-sm{padding:4px 10px;font-size:12px}
.add-panel{background:var(--bg-card);border:1px solid var(--border);border-radius:var(--radius);margin-bottom:16px;overflow:hidden;max-height:0;opacity:0;transition:max-height .3s,opacity .3s,padding .3s;padding:0 20px}
.add-panel.open{max-height:300px;opacity:1;padding:20px}
.add-panel h3{margin-bottom:16px;font-size:16px}
.form-grid{display:grid;grid-template-columns:repeat(auto-fill,minmax(200px,1fr));gap:12px}
.form-group{display:flex;flex-direction:column;gap:4px}
.form-group label{font-size:12px;color:var(--text-muted);text-transform:uppercase;letter-spacing:.3px}
.form-group input,.form-group select{background:var(--bg-input);color:var(--text);border:1px solid var(--border);border-radius:var(--radius-sm);padding:8px 10px;font-size:14px;outline:none}
.form-actions{display:flex;gap:8px;margin-top:16px}
.table-wrap{background:var(--bg-card);border:1px solid var(--border);border-radius:var(--radius);overflow:auto}
table{width:100%;border-collapse:collapse;font-size:14px}
thead{position:sticky;top:0;background:var(--bg-card);z-index:1}
th{text-align:left;padding:12px 16px;font-weight:600;color:var(--text-muted);border-bottom:1px solid var(--border);white-space:nowrap;font-size:12px;text-transform:uppercase;letter-spacing:.5px}
td{padding:10px 16px;border-bottom:1px solid var(--border);white-space:nowrap}
tbody tr:hover{background:var(--bg-card-hover)}
tbody tr:last-child td{border-bottom:none}
.health-badge{display:inline-flex;align-items:center;gap:5px;padding:2px 8px;border-radius:12px;font-size:12px;font-weight:600}
.health-up{color:var(--green);background:rgba(63,185,80,.12)}
.health-down{color:var(--red);background:rgba(248,81,73,.12)}
.health-unknown{color:var(--text-dim);background:rgba(72,79,88,.2)}
.health-paused{color:var(--orange);background:rgba(219,109,40,.12)}
.paused-tag{display:inline-flex;align-items:center;gap:4px;padding:2px 8px;border-radius:12px;font-size:11px;font-weight:600;color:var(--orange);background:rgba(219,109,40,.12);margin-left:6px}
.actions-cell{display:flex;gap:4px}
.empty-state{text-align:center;padding:60px 20px;color:var(--text-muted)}
.empty-state h3{margin-bottom:8px;font-size:18px;color:var(--text)}
.confirm-overlay{position:fixed;inset:0;background:rgba(0,0,0,.6);z-index:300;display:flex;align-items:center;justify-content:center;opacity:0;pointer-events:none;transition:.2s}
.confirm-overlay.open{opacity:1;pointer-events:auto}
.confirm-box{background:var(--bg-card);border:1px solid var(--border);border-radius:var(--radius);padding:24px;max-width:420px;text-align:center}
.confirm-box p{margin:12px 0 20px;color:var(--text-muted)}
.confirm-box .confirm-actions{display:flex;justify-content:center;gap:8px}
.toast-stack{position:fixed;bottom:20px;right:20px;z-index:400;display:flex;flex-direction:column-reverse;gap:8px}
.toast{padding:12px 16px;border-radius:var(--radius);font-size:14px;font-weight:500;box-shadow:0 4px 12px rgba(0,0,0,.3);min-width:280px}
.toast-success{background:var(--bg-card);border:1px solid var(--green);color:var(--green)}
.toast-error{background:var(--bg-card);border:1px solid var(--red);color:var(--red)}
.status-bar{display:flex;flex-wrap:wrap;gap:16px;padding:16px 0;border-bottom:1px solid var(--border);margin-bottom:0;font-size:13px;color:var(--text-muted);align-items:center}
.status-bar .status-item{display:flex;align-items:center;gap:6px}
.status-bar .status-item .status-label{color:var(--text-dim);font-size:11px;text-transform:uppercase;letter-spacing:.3px}
.status-bar .status-item .status-value{color:var(--text);font-weight:500}
.theme-btn{background:none;border:1px solid var(--border);color:var(--text-muted);border-radius:var(--radius-sm);padding:4px 8px;font-size:16px;line-height:1;cursor:pointer}
@media(max-width:900px){.summary{grid-template-columns:repeat(2,1fr)}.form-grid{grid-template-columns:1fr 1fr}}
@media(max-width:600px){.summary{grid-template-columns:1fr}.header-badges{margin-left:0}.status-bar{flex-direction:column;gap:8px}}
</style>
</head>
<body>

<header>
  <div class="header-inner">
    <div class="header-title">mysqlbouncer</div>
    <span id="overallBadge" class="badge badge-healthy"><span class="dot dot-green"></span> Healthy</span>
    <div class="header-badges">
      <button class="theme-btn" id="themeBtn" title="Toggle theme">&#9790;</button>
      <div class="refresh-controls">
        <label><input type="checkbox" id="autoRefresh" checked> Auto-refresh</label>
        <select id="refreshInterval">
          <option value="1000">1s</option>
          <option value="3000" selected>3s</option>
          <option value="5000">5s</option>
          <option value="10000">10s</option>
        </select>
      </div>
    </div>
  </div>
</header>

<div class="container">
  <div class="status-bar" id="statusBar">
    <div class="status-item"><span class="status-label">Uptime</span><span class="status-value" id="sUptime">-</span></div>
    <div class="status-item"><span class="status-label">Go</span><span class="status-value" id="sGoVer">-</span></div>
    <div class="status-item"><span class="status-label">Goroutines</span><span class="status-value" id="sGoroutines">-</span></div>
    <div class="status-item"><span class="status-label">Memory</span><span class="status-value" id="sMemory">-</span></div>
    <div class="status-item"><span class="status-label">MySQL Addr</span><span class="status-value" id="sMysqlAddr">-</span></div>
  </div>

  <div class="summary">
    <div class="card">
      <div class="card-label">Total Backends</div>
      <div class="card-value" id="totalBackends">0</div>
    </div>
    <div class="card">
      <div class="card-label">Connected Clients</div>
      <div class="card-value" id="activeClients">0</div>
    </div>
    <div class="card">
      <div class="card-label">Idle Cached Connections</div>
      <div class="card-value" id="idleCached">0</div>
    </div>
    <div class="card" id="unhealthyCard">
      <div class="card-label">Down Backends</div>
      <div class="card-value" id="unhealthyCount">0</div>
    </div>
  </div>

  <div class="toolbar">
    <input type="text" class="search" id="searchInput" placeholder="Search backends...">
    <button class="btn btn-primary" id="addBackendBtn">+ Add Backend</button>
  </div>

  <div class="add-panel" id="addPanel">
    <h3>Add New Backend</h3>
    <form id="addForm">
      <div class="form-grid">
        <div class="form-group">
          <label for="f-addr">Address</label>
          <input type="text" id="f-addr" required placeholder="e.g. db-1.internal:3306">
        </div>
        <div class="form-group">
          <label for="f-role">Role</label>
          <select id="f-role" required>
            <option value="rw">Read-write</option>
            <option value="ro">Read-only</option>
          </select>
        </div>
      </div>
      <div class="form-actions">
        <button type="submit" class="btn btn-primary">Create Backend</button>
        <button type="button" class="btn" id="cancelAdd">Cancel</button>
      </div>
    </form>
  </div>

  <div class="table-wrap">
    <table>
      <thead>
        <tr>
          <th>Address</th>
          <th>Role</th>
          <th>Health</th>
          <th>Connected Clients</th>
          <th>Idle Cached</th>
          <th>Actions</th>
        </tr>
      </thead>
      <tbody id="backendTableBody">
        <tr><td colspan="6" class="empty-state"><h3>No backends found</h3>Loading data...</td></tr>
      </tbody>
    </table>
  </div>
</div>

<div class="confirm-overlay" id="confirmOverlay">
  <div class="confirm-box">
    <h3 id="confirmTitle">Confirm</h3>
    <p id="confirmMsg"></p>
    <div class="confirm-actions">
      <button class="btn" id="confirmCancel">Cancel</button>
      <button class="btn btn-danger" id="confirmOk">Confirm</button>
    </div>
  </div>
</div>

<div class="toast-stack" id="toastStack"></div>

<script>
(function() {
  'use strict';

  var backends = [];
  var refreshTimer = null;

  var g = function(id) { return document.getElementById(id); };
  var elTotalBackends = g('totalBackends');
  var elActiveClients = g('activeClients');
  var elIdleCached = g('idleCached');
  var elUnhealthyCount = g('unhealthyCount');
  var elUnhealthyCard = g('unhealthyCard');
  var elOverallBadge = g('overallBadge');
  var elSearchInput = g('searchInput');
  var elTbody = g('backendTableBody');
  var elAddPanel = g('addPanel');
  var elAddForm = g('addForm');
  var elAutoRefresh = g('autoRefresh');
  var elInterval = g('refreshInterval');
  var elToastStack = g('toastStack');

  var apiBase = window.location.origin;

  function apiFetch(path, opts) {
    opts = opts || {};
    var headers = { 'Content-Type': 'application/json' };
    if (opts.headers) { for (var k in opts.headers) headers[k] = opts.headers[k]; }
    opts.headers = headers;
    return fetch(apiBase + path, opts).then(function(resp) {
      return resp.json().then(function(data) {
        if (!resp.ok) throw new Error(data.error || ('HTTP ' + resp.status));
        return data;
      });
    });
  }

  function toast(message, type) {
    type = type || 'success';
    var el = document.createElement('div');
    el.className = 'toast toast-' + type;
    el.textContent = message;
    elToastStack.appendChild(el);
    setTimeout(function() { el.remove(); }, 3000);
  }

  function confirmDialog(title, message) {
    return new Promise(function(resolve) {
      g('confirmTitle').textContent = title;
      g('confirmMsg').textContent = message;
      g('confirmOverlay').classList.add('open');
      var cleanup = function(val) { g('confirmOverlay').classList.remove('open'); resolve(val); };
      g('confirmCancel').onclick = function() { cleanup(false); };
      g('confirmOk').onclick = function() { cleanup(true); };
    });
  }

  function fetchBackends() {
    return apiFetch('/backends').then(function(data) {
      backends = Array.isArray(data) ? data : [];
      render();
    }).catch(function() { backends = []; render(); });
  }

  function fetchHealth() {
    return apiFetch('/health').then(function(data) {
      var isHealthy = data.status === 'healthy';
      elOverallBadge.className = 'badge ' + (isHealthy ? 'badge-healthy' : 'badge-unhealthy');
      elOverallBadge.innerHTML = '<span class="dot ' + (isHealthy ? 'dot-green' : 'dot-red') + '"></span> ' + (isHealthy ? 'Healthy' : 'Unhealthy');
    }).catch(function() {
      elOverallBadge.className = 'badge badge-unhealthy';
      elOverallBadge.innerHTML = '<span class="dot dot-red"></span> Unreachable';
    });
  }

  function formatUptime(secs) {
    var d = Math.floor(secs / 86400);
    var h = Math.floor((secs % 86400) / 3600);
    var m = Math.floor((secs % 3600) / 60);
    var s = secs % 60;
    if (d > 0) return d + 'd ' + h + 'h ' + m + 'm';
    if (h > 0) return h + 'h ' + m + 'm ' + s + 's';
    if (m > 0) return m + 'm ' + s + 's';
    return s + 's';
  }

  function fetchStatus() {
    return apiFetch('/status').then(function(data) {
      g('sUptime').textContent = formatUptime(data.uptime_seconds || 0);
      g('sGoVer').textContent = data.go_version || '-';
      g('sGoroutines').textContent = data.goroutines || '-';
      g('sMemory').textContent = (data.memory_mb || 0).toFixed(1) + ' MB';
      if (data.listen) { g('sMysqlAddr').textContent = data.listen.mysql_addr || '-'; }
    }).catch(function() {});
  }

  function refreshData() {
    return Promise.all([fetchBackends(), fetchHealth(), fetchStatus()]);
  }

  function render() {
    var filter = elSearchInput.value.toLowerCase();
    var filtered = backends.filter(function(b) {
      return b.addr.toLowerCase().indexOf(filter) !== -1 || b.role.toLowerCase().indexOf(filter) !== -1;
    });

    var sumClients = 0, sumIdle = 0, countDown = 0;
    backends.forEach(function(b) {
      sumClients += b.connected_clients || 0;
      sumIdle += b.idle_cached || 0;
      if (b.state !== 'up') countDown++;
    });
    elTotalBackends.textContent = backends.length;
    elActiveClients.textContent = sumClients;
    elIdleCached.textContent = sumIdle;
    elUnhealthyCount.textContent = countDown;
    if (countDown > 0) { elUnhealthyCount.classList.add('danger'); elUnhealthyCard.classList.add('danger-card'); }
    else { elUnhealthyCount.classList.remove('danger'); elUnhealthyCard.classList.remove('danger-card'); }

    if (filtered.length === 0) {
      elTbody.innerHTML = '<tr><td colspan="6" class="empty-state"><h3>No backends found</h3>' +
        (backends.length === 0 ? 'Add a backend to get started' : 'Try a different search') + '</td></tr>';
      return;
    }

    elTbody.innerHTML = filtered.map(function(b) {
      var hClass = b.paused ? 'health-paused' : (b.state === 'up' ? 'health-up' : b.state === 'down' ? 'health-down' : 'health-unknown');
      var dotClass = b.paused ? 'dot-gray' : (b.state === 'up' ? 'dot-green' : b.state === 'down' ? 'dot-red' : 'dot-gray');
      var hLabel = b.paused ? 'paused' : b.state;
      var pauseBtn = b.paused
        ? '<button class="btn btn-sm" onclick="window._resumeBackend(\'' + esc(b.addr) + '\')">Resume</button>'
        : '<button class="btn btn-sm" onclick="window._pauseBackend(\'' + esc(b.addr) + '\')">Pause</button>';
      return '<tr>' +
        '<td><strong>' + esc(b.addr) + '</strong>' + (b.paused ? '<span class="paused-tag">PAUSED</span>' : '') + '</td>' +
        '<td>' + esc(b.role) + '</td>' +
        '<td><span class="health-badge ' + hClass + '"><span class="dot ' + dotClass + '"></span>' + hLabel + '</span></td>' +
        '<td>' + (b.connected_clients || 0) + '</td>' +
        '<td>' + (b.idle_cached || 0) + '</td>' +
        '<td class="actions-cell">' +
          pauseBtn +
          '<button class="btn btn-sm btn-danger" onclick="window._deleteBackend(\'' + esc(b.addr) + '\')">Delete</button>' +
        '</td>' +
      '</tr>';
    }).join('');
  }

  function esc(s) {
    if (s == null) return '';
    return String(s).replace(/&/g,'&amp;').replace(/</g,'&lt;').replace(/>/g,'&gt;').replace(/"/g,'&quot;').replace(/'/g,'&#39;');
  }

  window._deleteBackend = function(addr) {
    confirmDialog('Delete Backend', 'Permanently remove "' + addr + '"?').then(function(ok) {
      if (!ok) return;
      apiFetch('/backends/' + encodeURIComponent(addr), { method: 'DELETE' }).then(function() {
        toast('Backend "' + addr + '" removed');
        refreshData();
      }).catch(function(e) { toast(e.message, 'error'); });
    });
  };

  window._pauseBackend = function(addr) {
    apiFetch('/backends/' + encodeURIComponent(addr) + '/pause', { method: 'POST' }).then(function() {
      toast('Backend "' + addr + '" paused');
      refreshData();
    }).catch(function(e) { toast(e.message, 'error'); });
  };

  window._resumeBackend = function(addr) {
    apiFetch('/backends/' + encodeURIComponent(addr) + '/resume', { method: 'POST' }).then(function() {
      toast('Backend "' + addr + '" resumed');
      refreshData();
    }).catch(function(e) { toast(e.message, 'error'); });
  };

  g('addBackendBtn').onclick = function() { elAddPanel.classList.toggle('open'); };
  g('cancelAdd').onclick = function() { elAddPanel.classList.remove('open'); };

  elAddForm.onsubmit = function(e) {
    e.preventDefault();
    var body = { addr: g('f-addr').value.trim(), role: g('f-role').value };
    apiFetch('/backends', { method: 'POST', body: JSON.stringify(body) }).then(function() {
      toast('Backend "' + body.addr + '" created');
      elAddForm.reset();
      elAddPanel.classList.remove('open');
      refreshData();
    }).catch(function(e) { toast(e.message, 'error'); });
  };

  elSearchInput.oninput = function() { render(); };

  function startRefresh() {
    stopRefresh();
    if (elAutoRefresh.checked) {
      var interval = parseInt(elInterval.value);
      refreshTimer = setInterval(refreshData, interval);
    }
  }
  function stopRefresh() {
    if (refreshTimer) { clearInterval(refreshTimer); refreshTimer = null; }
  }
  elAutoRefresh.onchange = startRefresh;
  elInterval.onchange = startRefresh;

  function applyTheme(theme) {
    document.documentElement.setAttribute('data-theme', theme);
    g('themeBtn').innerHTML = theme === 'light' ? '&#9728;' : '&#9790;';
    localStorage.setItem('mysqlbouncer-theme', theme);
  }
  g('themeBtn').onclick = function() {
    var current = localStorage.getItem('mysqlbouncer-theme') || 'dark';
    applyTheme(current === 'dark' ? 'light' : 'dark');
  };
  applyTheme(localStorage.getItem('mysqlbouncer-theme') || 'dark');

  refreshData();
  startRefresh();
})();
</script>
</body>
</html>
`
